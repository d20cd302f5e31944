package parser

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql"

	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/metrics"
	"campus-sdn-controller/internal/model"
)

// ConnectOptions bounds how long NewMariaDBParser keeps retrying an
// unreachable server.
type ConnectOptions struct {
	Timeout     time.Duration
	MaxInterval time.Duration
}

func DefaultConnectOptions() ConnectOptions {
	return ConnectOptions{Timeout: 30 * time.Second, MaxInterval: 5 * time.Second}
}

// MariaDBParser loads a network spec from the cfg_* tables. List-valued
// columns hold JSON arrays of names.
type MariaDBParser struct {
	db  *sql.DB
	log *logging.Logger

	Spec *model.NetworkSpec
}

func NewMariaDBParser(ctx context.Context, dsn string, opts ConnectOptions) (*MariaDBParser, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	defaults := DefaultConnectOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = defaults.MaxInterval
	}

	log := logging.LoggerForProvider("mariadb")
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = opts.Timeout
	b.MaxInterval = opts.MaxInterval

	ping := func() error {
		err := db.PingContext(ctx)
		metrics.RecordDBConnect(err)
		return err
	}
	notify := func(err error, wait time.Duration) {
		log.Warn("MariaDB not reachable, retrying", "error", err.Error(), "wait", wait.String())
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to mariadb: %w", err)
	}

	return &MariaDBParser{
		db:   db,
		log:  log,
		Spec: &model.NetworkSpec{},
	}, nil
}

func (p *MariaDBParser) Close() {
	p.db.Close()
}

func (p *MariaDBParser) Parse(ctx context.Context) error {
	if err := p.loadExactHosts(ctx); err != nil {
		return fmt.Errorf("failed to load exact hosts: %w", err)
	}
	if err := p.loadHosts(ctx); err != nil {
		return fmt.Errorf("failed to load hosts: %w", err)
	}
	if err := p.loadSubnets(ctx); err != nil {
		return fmt.Errorf("failed to load subnets: %w", err)
	}
	if err := p.loadGroups(ctx); err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}
	if err := p.loadSwitches(ctx); err != nil {
		return fmt.Errorf("failed to load switches: %w", err)
	}
	if err := p.loadRules(ctx); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	p.log.Info("Network loaded from MariaDB",
		"hosts", len(p.Spec.Hosts),
		"switches", len(p.Spec.Switches),
		"rules", len(p.Spec.Rules),
	)
	return nil
}

func (p *MariaDBParser) loadExactHosts(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT host_name FROM cfg_exact_host ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		p.Spec.ExactHosts = append(p.Spec.ExactHosts, name)
	}
	return rows.Err()
}

func (p *MariaDBParser) loadHosts(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT object_name, address FROM cfg_host ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var host model.HostObject
		if err := rows.Scan(&host.Name, &host.Address); err != nil {
			return err
		}
		p.Spec.Hosts = append(p.Spec.Hosts, host)
	}
	return rows.Err()
}

func (p *MariaDBParser) loadSubnets(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT object_name, prefix FROM cfg_subnet ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var subnet model.SubnetObject
		if err := rows.Scan(&subnet.Name, &subnet.Prefix); err != nil {
			return err
		}
		p.Spec.Subnets = append(p.Spec.Subnets, subnet)
	}
	return rows.Err()
}

func (p *MariaDBParser) loadGroups(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT group_name, members FROM cfg_group ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var group model.GroupObject
		var membersJSON string
		if err := rows.Scan(&group.Name, &membersJSON); err != nil {
			return err
		}
		if err := decodeNames(membersJSON, &group.Members); err != nil {
			return fmt.Errorf("group %s: %w", group.Name, err)
		}
		p.Spec.Groups = append(p.Spec.Groups, group)
	}
	return rows.Err()
}

func (p *MariaDBParser) loadSwitches(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT switch_id, switch_name, kind, default_port FROM cfg_switch ORDER BY switch_id")
	if err != nil {
		return err
	}
	defer rows.Close()

	index := make(map[model.SwitchID]int)
	for rows.Next() {
		var sw model.SwitchSpec
		var kind string
		var defaultPort sql.NullInt64
		if err := rows.Scan(&sw.ID, &sw.Name, &kind, &defaultPort); err != nil {
			return err
		}
		sw.Kind = model.SwitchKind(kind)
		if defaultPort.Valid {
			sw.DefaultPort = uint32(defaultPort.Int64)
		}
		index[sw.ID] = len(p.Spec.Switches)
		p.Spec.Switches = append(p.Spec.Switches, sw)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	entries, err := p.db.QueryContext(ctx, "SELECT switch_id, destination, port FROM cfg_forwarding ORDER BY id")
	if err != nil {
		return err
	}
	defer entries.Close()

	for entries.Next() {
		var id model.SwitchID
		var entry model.ForwardingEntry
		if err := entries.Scan(&id, &entry.Destination, &entry.Port); err != nil {
			return err
		}
		i, ok := index[id]
		if !ok {
			return fmt.Errorf("forwarding entry %q references unknown switch %d", entry.Destination, id)
		}
		p.Spec.Switches[i].Entries = append(p.Spec.Switches[i].Entries, entry)
	}
	return entries.Err()
}

func (p *MariaDBParser) loadRules(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, `SELECT priority, rule_id, description, stage, protocol,
		src_objects, dst_objects, src_subnets, dst_subnets, service_objects,
		same_subnet, bidirectional, action, is_enabled
		FROM cfg_rule ORDER BY priority ASC, id ASC`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rule model.RuleSpec
		var description, action sql.NullString
		var stage, protocol, isEnabled string
		var srcJSON, dstJSON, srcNetJSON, dstNetJSON, svcJSON string

		if err := rows.Scan(&rule.Priority, &rule.ID, &description, &stage, &protocol,
			&srcJSON, &dstJSON, &srcNetJSON, &dstNetJSON, &svcJSON,
			&rule.SameSubnet, &rule.Bidirectional, &action, &isEnabled); err != nil {
			return err
		}

		rule.Description = description.String
		rule.Stage = model.Stage(stage)
		rule.Protocol = model.Protocol(protocol)
		rule.Action = model.Verdict(action.String)
		rule.Disabled = isEnabled != "enable"

		for _, col := range []struct {
			raw string
			dst *[]string
		}{
			{srcJSON, &rule.SrcAddrs},
			{dstJSON, &rule.DstAddrs},
			{srcNetJSON, &rule.SrcSubnets},
			{dstNetJSON, &rule.DstSubnets},
			{svcJSON, &rule.Services},
		} {
			if err := decodeNames(col.raw, col.dst); err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
		}

		p.Spec.Rules = append(p.Spec.Rules, rule)
	}
	return rows.Err()
}

// decodeNames reads a JSON array of names. An empty column means no names.
func decodeNames(raw string, dst *[]string) error {
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("invalid name list %q: %w", raw, err)
	}
	return nil
}
