package parser

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/netspec"
)

var testDB *sql.DB
var dsn = "root:static@tcp(127.0.0.1:3306)/sdn_config"

func TestMain(m *testing.M) {
	if env := os.Getenv("SDNCTL_TEST_DSN"); env != "" {
		dsn = env
	}
	db, err := sql.Open("mysql", dsn)
	if err == nil {
		err = db.Ping()
	}
	if err != nil {
		// DB tests skip themselves; the rest of the package still runs.
		fmt.Printf("MariaDB not reachable: %v\n", err)
	} else {
		testDB = db
		setupSchema()
	}
	os.Exit(m.Run())
}

func requireDB(t *testing.T) {
	t.Helper()
	if testDB == nil {
		t.Skip("MariaDB not reachable")
	}
}

func setupSchema() {
	for _, table := range []string{"cfg_exact_host", "cfg_host", "cfg_subnet", "cfg_group", "cfg_switch", "cfg_forwarding", "cfg_rule"} {
		testDB.Exec("DROP TABLE IF EXISTS " + table)
	}

	testDB.Exec(`CREATE TABLE cfg_exact_host (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		host_name VARCHAR(64) NOT NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_host (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		object_name VARCHAR(64) NOT NULL,
		address VARCHAR(64) NOT NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_subnet (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		object_name VARCHAR(64) NOT NULL,
		prefix VARCHAR(64) NOT NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_group (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		group_name VARCHAR(64) NOT NULL,
		members LONGTEXT NOT NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_switch (
		switch_id BIGINT UNSIGNED PRIMARY KEY,
		switch_name VARCHAR(64) NOT NULL,
		kind VARCHAR(16) NOT NULL,
		default_port INT(10) UNSIGNED NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_forwarding (
		id BIGINT UNSIGNED PRIMARY KEY AUTO_INCREMENT,
		switch_id BIGINT UNSIGNED NOT NULL,
		destination VARCHAR(64) NOT NULL,
		port INT(10) UNSIGNED NOT NULL
	)`)

	testDB.Exec(`CREATE TABLE cfg_rule (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		priority INT(10) UNSIGNED NOT NULL,
		rule_id VARCHAR(64) NOT NULL,
		description VARCHAR(255) NULL,
		stage VARCHAR(16) NOT NULL,
		protocol VARCHAR(8) NOT NULL,
		src_objects LONGTEXT NOT NULL,
		dst_objects LONGTEXT NOT NULL,
		src_subnets LONGTEXT NOT NULL,
		dst_subnets LONGTEXT NOT NULL,
		service_objects LONGTEXT NOT NULL,
		same_subnet TINYINT(1) NOT NULL DEFAULT 0,
		bidirectional TINYINT(1) NOT NULL DEFAULT 0,
		action VARCHAR(16) NULL,
		is_enabled VARCHAR(16) NOT NULL
	)`)
}

func cleanTables() {
	for _, table := range []string{"cfg_exact_host", "cfg_host", "cfg_subnet", "cfg_group", "cfg_switch", "cfg_forwarding", "cfg_rule"} {
		testDB.Exec("DELETE FROM " + table)
	}
}

func TestMariaDBParser(t *testing.T) {
	requireDB(t)
	cleanTables()

	testDB.Exec("INSERT INTO cfg_exact_host (host_name) VALUES (?)", "discordServer")
	testDB.Exec("INSERT INTO cfg_host (object_name, address) VALUES (?, ?), (?, ?), (?, ?)",
		"studentPC1", "169.233.4.1", "printer", "169.233.3.20", "discordServer", "200.10.10.200")
	testDB.Exec("INSERT INTO cfg_subnet (object_name, prefix) VALUES (?, ?), (?, ?)",
		"faculty", "169.233.3.0/24", "student", "169.233.4.0/24")
	testDB.Exec("INSERT INTO cfg_group (group_name, members) VALUES (?, ?)", "campus", `["faculty", "student"]`)
	testDB.Exec("INSERT INTO cfg_switch (switch_id, switch_name, kind, default_port) VALUES (?, ?, ?, NULL), (?, ?, ?, ?)",
		1, "core", "core", 3, "student", "access", 3)
	testDB.Exec("INSERT INTO cfg_forwarding (switch_id, destination, port) VALUES (?, ?, ?), (?, ?, ?), (?, ?, ?), (?, ?, ?)",
		1, "faculty", 2, 1, "student", 3, 1, "discordServer", 9, 3, "studentPC1", 5)
	testDB.Exec(`INSERT INTO cfg_rule (priority, rule_id, description, stage, protocol, src_objects, dst_objects,
		src_subnets, dst_subnets, service_objects, same_subnet, bidirectional, action, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?), (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		90, "udp-campus", nil, "allow", "udp", `[]`, `[]`, `["campus"]`, `["campus"]`, `[]`, 0, 0, nil, "enable",
		10, "discord-student", "Discord for students", "override", "any", `[]`, `["discordServer"]`, `["student"]`, `[]`, "", 0, 1, nil, "enable",
		50, "web", nil, "allow", "tcp", `[]`, `["printer"]`, `[]`, `[]`, `["HTTP"]`, 0, 0, "accept", "disable")

	p, err := NewMariaDBParser(context.Background(), dsn, ConnectOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer p.Close()

	if err := p.Parse(context.Background()); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	spec := p.Spec

	if len(spec.ExactHosts) != 1 || len(spec.Hosts) != 3 || len(spec.Subnets) != 2 || len(spec.Groups) != 1 {
		t.Fatalf("unexpected object counts %+v", spec)
	}
	if len(spec.Switches) != 2 {
		t.Fatalf("expected 2 switches, got %d", len(spec.Switches))
	}
	if spec.Switches[0].DefaultPort != 0 || len(spec.Switches[0].Entries) != 3 {
		t.Errorf("unexpected core switch %+v", spec.Switches[0])
	}
	if spec.Switches[1].Kind != model.AccessSwitch || spec.Switches[1].DefaultPort != 3 {
		t.Errorf("unexpected access switch %+v", spec.Switches[1])
	}

	if len(spec.Rules) != 3 {
		t.Fatalf("expected 3 rules, got %d", len(spec.Rules))
	}
	first := spec.Rules[0]
	if first.ID != "discord-student" || !first.Bidirectional || first.Description != "Discord for students" {
		t.Errorf("expected rules ordered by priority, got first %+v", first)
	}
	if len(first.Services) != 0 {
		t.Errorf("expected empty service column to mean no services, got %v", first.Services)
	}
	if !spec.Rules[1].Disabled || spec.Rules[1].Action != model.Accept {
		t.Errorf("expected disabled web rule, got %+v", spec.Rules[1])
	}

	resolved, err := netspec.Resolve(spec)
	if err != nil {
		t.Fatalf("expected loaded spec to resolve, got %v", err)
	}
	if len(resolved.Rules) != 2 {
		t.Errorf("expected disabled rule to be dropped, got %d rules", len(resolved.Rules))
	}
}

func TestMariaDBParserEqualPriorityKeepsTableOrder(t *testing.T) {
	requireDB(t)
	cleanTables()

	// Inserted so that neither rule_id nor reverse order matches table order.
	for _, id := range []string{"m-rule", "z-rule", "a-rule"} {
		testDB.Exec(`INSERT INTO cfg_rule (priority, rule_id, stage, protocol, src_objects, dst_objects,
			src_subnets, dst_subnets, service_objects, is_enabled)
			VALUES (20, ?, 'allow', 'tcp', '[]', '[]', '[]', '[]', '[]', 'enable')`, id)
	}
	testDB.Exec(`INSERT INTO cfg_rule (priority, rule_id, stage, protocol, src_objects, dst_objects,
		src_subnets, dst_subnets, service_objects, is_enabled)
		VALUES (10, 'first', 'deny', 'udp', '[]', '[]', '[]', '[]', '[]', 'enable')`)

	p, err := NewMariaDBParser(context.Background(), dsn, ConnectOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer p.Close()
	if err := p.Parse(context.Background()); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}

	var got []string
	for _, r := range p.Spec.Rules {
		got = append(got, r.ID)
	}
	if strings.Join(got, ",") != "first,m-rule,z-rule,a-rule" {
		t.Errorf("expected priority then table order, got %v", got)
	}
}

func TestMariaDBParserRejectsBadNameList(t *testing.T) {
	requireDB(t)
	cleanTables()

	testDB.Exec("INSERT INTO cfg_group (group_name, members) VALUES (?, ?)", "broken", `faculty, student`)

	p, err := NewMariaDBParser(context.Background(), dsn, ConnectOptions{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("failed to create parser: %v", err)
	}
	defer p.Close()

	err = p.Parse(context.Background())
	if err == nil || !strings.Contains(err.Error(), "group broken") {
		t.Errorf("expected invalid member list error, got %v", err)
	}
}

func TestDecodeNames(t *testing.T) {
	var names []string
	if err := decodeNames("", &names); err != nil || names != nil {
		t.Errorf("expected empty column to leave names unset, got %v, %v", names, err)
	}
	if err := decodeNames(`["a", "b"]`, &names); err != nil || len(names) != 2 {
		t.Errorf("expected two names, got %v, %v", names, err)
	}
	if err := decodeNames(`not json`, &names); err == nil {
		t.Errorf("expected error for malformed list")
	}
}

func TestNewMariaDBParserErrors(t *testing.T) {
	_, err := NewMariaDBParser(context.Background(), "invalid-dsn", ConnectOptions{})
	if err == nil {
		t.Errorf("expected error for invalid DSN")
	}

	// Nothing listens on port 1; retries stop at the timeout.
	start := time.Now()
	_, err = NewMariaDBParser(context.Background(), "root:x@tcp(127.0.0.1:1)/none",
		ConnectOptions{Timeout: 300 * time.Millisecond, MaxInterval: 50 * time.Millisecond})
	if err == nil {
		t.Fatalf("expected error for unreachable server")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("expected retries to stop near the timeout, took %s", elapsed)
	}
}
