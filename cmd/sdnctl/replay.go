package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"campus-sdn-controller/internal/config"
	"campus-sdn-controller/internal/controller"
	"campus-sdn-controller/internal/logging"
	"campus-sdn-controller/internal/model"
	"campus-sdn-controller/internal/parser"
)

type replayOptions struct {
	tracePath    string
	pcapPath     string
	switchID     uint64
	inPort       uint32
	outFile      string
	acceptedFile string
	workers      int
	mode         string
	maxHosts     uint64
}

// task is one observation plus the trace label carried into the output.
type task struct {
	obs   *model.Observation
	label string
}

type replayResult struct {
	result model.DecisionResult
	label  string
}

var resultHeader = []string{
	"switch", "in_port", "protocol", "src", "dst", "src_subnet", "dst_subnet",
	"src_port", "dst_port", "service", "label", "decision", "out_port", "rule", "reason", "effect_error",
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	r := &replayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a trace or pcap capture through the decision pipeline",
		Long: `replay decides every observation of a CSV trace (--trace) or an Ethernet
pcap capture (--pcap) on a pool of workers, writing every decision to --out
and the accepted ones to --accepted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.run(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&r.tracePath, "trace", "", "Observation trace CSV file")
	cmd.Flags().StringVar(&r.pcapPath, "pcap", "", "Ethernet pcap capture")
	cmd.Flags().Uint64Var(&r.switchID, "switch", 0, "Switch the pcap frames arrive on (for --pcap)")
	cmd.Flags().Uint32Var(&r.inPort, "in-port", 1, "Ingress port of the pcap frames (for --pcap)")
	cmd.Flags().StringVar(&r.outFile, "out", "decisions.csv", "Output CSV file for all decisions")
	cmd.Flags().StringVar(&r.acceptedFile, "accepted", "accepted.csv", "Output CSV file for accepted traffic")
	cmd.Flags().IntVarP(&r.workers, "workers", "w", 0, "Number of concurrent workers (default: config or NumCPU)")
	cmd.Flags().StringVar(&r.mode, "mode", "", "Trace mode: 'sample' (first host of each CIDR) or 'expand' (every host)")
	cmd.Flags().Uint64Var(&r.maxHosts, "max-hosts", 0, "Largest CIDR expanded in 'expand' mode")
	cmd.MarkFlagsMutuallyExclusive("trace", "pcap")
	cmd.MarkFlagsOneRequired("trace", "pcap")
	return cmd
}

func (r *replayOptions) run(cmd *cobra.Command, opts *rootOptions) error {
	ctx := cmd.Context()
	logger := opts.logger.WithName("replay")
	startTime := time.Now()

	mode := opts.cfg.Replay.Mode
	if r.mode != "" {
		mode = r.mode
	}
	if mode != config.ModeSample && mode != config.ModeExpand {
		return fmt.Errorf("unknown replay mode %q", mode)
	}
	maxHosts := opts.cfg.Replay.MaxHosts
	if r.maxHosts > 0 {
		maxHosts = r.maxHosts
	}
	workers := workerCount(r.workers, opts.cfg.Replay.Workers)

	var entries []parser.TraceEntry
	if r.tracePath != "" {
		f, err := os.Open(r.tracePath)
		if err != nil {
			logger.Error(err, "Failed to open trace file", "path", r.tracePath)
			return err
		}
		entries, err = parser.ParseTrace(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", r.tracePath, err)
		}
		logger.Info("Trace parsed", "entries", len(entries))
	}

	counter := &effectCounter{}
	ctrl, err := opts.buildController(ctx, counter)
	if err != nil {
		logger.Error(err, "Failed to load network")
		return err
	}

	var totalTasks uint64
	for i := range entries {
		totalTasks += entries[i].Count(isExpand(mode), maxHosts)
	}
	if r.tracePath != "" {
		logger.Info("Task count estimated", "total_tasks", totalTasks, "mode", mode)
	}

	var completedTasks uint64
	progressDone := make(chan struct{})
	if totalTasks > 0 {
		go reportProgress(logger, totalTasks, &completedTasks, progressDone)
	}

	tasks := make(chan task, workers*100)
	results := make(chan replayResult, workers*100)
	var wg sync.WaitGroup

	logger.Info("Starting result writer", "output_file", r.outFile, "accepted_file", r.acceptedFile)
	writerErr := make(chan error, 1)
	go func() {
		writerErr <- resultWriter(logger, results, r.outFile, r.acceptedFile, &completedTasks)
	}()

	logger.Info("Starting decision workers", "count", workers)
	var rejected uint64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(ctx, &wg, i+1, logger, ctrl, tasks, results, &rejected)
	}

	producerErr := make(chan error, 1)
	go func() {
		defer close(tasks)
		producerErr <- r.produce(ctx, entries, isExpand(mode), maxHosts, tasks)
	}()

	wg.Wait()
	close(results)
	werr := <-writerErr
	close(progressDone)

	if err := <-producerErr; err != nil {
		logger.Error(err, "Replay input failed")
		return err
	}
	if werr != nil {
		return werr
	}

	logger.Info("Replay complete",
		"decisions", atomic.LoadUint64(&completedTasks),
		"rejected", atomic.LoadUint64(&rejected),
		"floods", counter.floods.Load(),
		"installs", counter.installs.Load(),
		"drops", counter.drops.Load(),
		"duration", time.Since(startTime).String(),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d observations (%d rejected): %d flood, %d forward, %d drop\n",
		atomic.LoadUint64(&completedTasks), atomic.LoadUint64(&rejected),
		counter.floods.Load(), counter.installs.Load(), counter.drops.Load())
	return ctx.Err()
}

// produce feeds tasks from the trace entries, or streams the pcap file.
func (r *replayOptions) produce(ctx context.Context, entries []parser.TraceEntry, expand bool, maxHosts uint64, tasks chan<- task) error {
	send := func(t task) bool {
		select {
		case tasks <- t:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if r.pcapPath != "" {
		f, err := os.Open(r.pcapPath)
		if err != nil {
			return err
		}
		defer f.Close()
		return parser.ReadPcap(f, model.SwitchID(r.switchID), r.inPort, func(obs *model.Observation) bool {
			return send(task{obs: obs})
		})
	}

	for i := range entries {
		label := entries[i].Metadata["label"]
		stopped := false
		entries[i].Observations(expand, maxHosts, func(obs *model.Observation) bool {
			if !send(task{obs: obs, label: label}) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			break
		}
	}
	return nil
}

func reportProgress(logger *logging.Logger, totalTasks uint64, completedTasks *uint64, done <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	var lastLogged uint64
	for {
		select {
		case <-ticker.C:
			completed := atomic.LoadUint64(completedTasks)
			if completed == lastLogged {
				continue
			}
			remaining := uint64(0)
			if completed < totalTasks {
				remaining = totalTasks - completed
			}
			percent := float64(completed) / float64(totalTasks) * 100
			logger.Info("Progress", "total_tasks", totalTasks, "completed_tasks", completed,
				"remaining_tasks", remaining, "percent", fmt.Sprintf("%.2f", percent))
			lastLogged = completed
			if completed >= totalTasks {
				return
			}
		case <-done:
			return
		}
	}
}

func worker(ctx context.Context, wg *sync.WaitGroup, id int, logger *logging.Logger, ctrl *controller.Controller,
	tasks <-chan task, results chan<- replayResult, rejected *uint64) {
	defer wg.Done()
	logger.Debug("Worker started", "id", id)
	// Effect failures are logged with the worker that hit them.
	ctx = logging.IntoContext(ctx, logger.WithName("executor").WithValues("worker", id))
	for t := range tasks {
		result, err := ctrl.HandlePacketIn(ctx, t.obs)
		if errors.Is(err, controller.ErrIncompletePacket) {
			atomic.AddUint64(rejected, 1)
			continue
		}
		results <- replayResult{result: result, label: t.label}
	}
	logger.Debug("Worker finished", "id", id)
}

func resultWriter(logger *logging.Logger, results <-chan replayResult, outPath, acceptedPath string, completedTasks *uint64) error {
	// Drain on early return so workers never block.
	defer func() {
		for range results {
		}
	}()

	outFile, err := os.Create(outPath)
	if err != nil {
		logger.Error(err, "Failed to create output file", "path", outPath)
		return err
	}
	defer outFile.Close()

	acceptedFile, err := os.Create(acceptedPath)
	if err != nil {
		logger.Error(err, "Failed to create accepted file", "path", acceptedPath)
		return err
	}
	defer acceptedFile.Close()

	outWriter := csv.NewWriter(outFile)
	acceptedWriter := csv.NewWriter(acceptedFile)

	outWriter.Write(resultHeader)
	acceptedWriter.Write(resultHeader)

	var written uint64
	for rr := range results {
		record := resultRecord(rr)
		outWriter.Write(record)
		if rr.result.Decision.Action == model.ActionAccept {
			acceptedWriter.Write(record)
		}
		written++
		if written%1024 == 0 {
			atomic.StoreUint64(completedTasks, written)
		}
	}
	atomic.StoreUint64(completedTasks, written)

	outWriter.Flush()
	acceptedWriter.Flush()
	if err := outWriter.Error(); err != nil {
		return err
	}
	if err := acceptedWriter.Error(); err != nil {
		return err
	}
	logger.Info("Result writer finished", "written", written)
	return nil
}

func resultRecord(rr replayResult) []string {
	r := rr.result
	outPort := ""
	if r.Decision.Action == model.ActionAccept {
		outPort = strconv.FormatUint(uint64(r.Decision.Port), 10)
	}
	return []string{
		strconv.FormatUint(uint64(r.SwitchID), 10),
		strconv.FormatUint(uint64(r.InPort), 10),
		r.Protocol,
		r.SrcIP,
		r.DstIP,
		string(r.SrcSubnet),
		string(r.DstSubnet),
		strconv.Itoa(int(r.SrcPort)),
		strconv.Itoa(int(r.DstPort)),
		r.Service,
		rr.label,
		string(r.Decision.Action),
		outPort,
		r.Decision.RuleID,
		r.Decision.Reason,
		r.EffectErr,
	}
}

// effectCounter is the switch channel used for replay: effects are counted
// rather than sent anywhere.
type effectCounter struct {
	floods   atomic.Uint64
	installs atomic.Uint64
	drops    atomic.Uint64
}

func (c *effectCounter) Flood(context.Context, model.SwitchID, uint32, model.BufferedPacket) error {
	c.floods.Add(1)
	return nil
}

func (c *effectCounter) InstallAndForward(context.Context, model.SwitchID, model.FlowRule, model.BufferedPacket) error {
	c.installs.Add(1)
	return nil
}

func (c *effectCounter) InstallDrop(context.Context, model.SwitchID, model.FlowRule, model.BufferedPacket) error {
	c.drops.Add(1)
	return nil
}
