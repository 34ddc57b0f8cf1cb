// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// ringmm multiplies two N × N matrices over a ring of ranks and writes the result to disk.
//
// Usage:
//
//	ringmm [flags] <threads> <ranks_per_color> <compact>
//
// By default all ranks run in this process (see -procs). To run one rank per process, start one process per
// address listed in -peers, each with its own -rank.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gomlx/ringmm/internal/workerspool"
	"github.com/gomlx/ringmm/pkg/core/matrix"
	"github.com/gomlx/ringmm/pkg/core/multiply"
	"github.com/gomlx/ringmm/pkg/core/ring"
	"github.com/gomlx/ringmm/pkg/core/transport/grpcring"
	"github.com/gomlx/ringmm/pkg/ringmm"
	"github.com/gomlx/ringmm/pkg/support/fsutil"
	"github.com/gomlx/ringmm/ui/commandline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Exit codes.
const (
	exitSuccess = 0
	exitUsage   = 1
	exitConfig  = 2
	exitRuntime = 3
)

var (
	flagN     = flag.Int("n", ringmm.DefaultN, "Dimension of the square matrices.")
	flagProcs = flag.Int("procs", 1, "Number of ranks to run in this process. Ignored if -peers is set.")
	flagRank  = flag.Int("rank", 0, "Rank of this process, when running one rank per process with -peers.")
	flagPeers = flag.String("peers", "", "Comma-separated list of host:port of every rank, indexed by rank. "+
		"If set, this process runs only the rank given by -rank, and talks to the others over gRPC.")
	flagOut         = flag.String("out", ".", "Directory where the result files are written.")
	flagRecvTimeout = flag.Duration("recv_timeout", ring.DefaultTimeout, "Maximum wait for the block of each round.")
	flagSendTimeout = flag.Duration("send_timeout", ring.DefaultTimeout,
		"Maximum wait for the successor to accept a block.")
	flagIOTimeout = flag.Duration("io_timeout", ring.DefaultTimeout,
		"Maximum wait of each step of the collective write and of the final barrier.")
	flagOffset = flag.String("offset", multiply.OffsetRotating.String(),
		"Columns of C written in each round: \"rotating\" (those of the block's owner, computes A·B) or "+
			"\"fixed\" (those of the rank itself, accumulating all rounds).")
	flagAllowRemainder = flag.Bool("allow_row_remainder", false,
		"Accept a number of threads that doesn't divide the rows per rank: the remaining rows are not computed.")
	flagProgress = flag.Bool("progress", false, "Display the progress of the rounds of rank 0.")
	flagVerify   = flag.Bool("verify", false, "Verify the result files against an independently computed product. "+
		"Only practical for small -n: it allocates the full matrices.")
	flagJob = flag.String("job", "", "Job id shared by all the processes of a -peers run. "+
		"Defaults to an id derived from the -peers list.")
)

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] <threads> <ranks_per_color> <compact>\n\n"+
				"Settings can also be given in $%s as \"key=value;key=value\", overridden by flags.\n\nFlags:\n",
			os.Args[0], ringmm.ConfigEnvVar)
		flag.PrintDefaults()
	}
	flag.Parse()
	os.Exit(run(flag.Args(), os.Stdout))
}

// run the program with the positional arguments args, printing the report to stdout. It returns the exit code.
func run(args []string, stdout io.Writer) int {
	defer klog.Flush()
	if len(args) != 3 {
		_, _ = fmt.Fprintln(stdout, "Wrong number of arguments!")
		return exitUsage
	}
	config, err := buildConfig(args)
	if err != nil {
		klog.Errorf("%v", err)
		return exitConfig
	}
	if config.OutputDir, err = fsutil.PrepareOutputDir(config.OutputDir); err != nil {
		klog.Errorf("%v", err)
		return exitRuntime
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	var progress *commandline.RoundProgress
	if *flagProgress && (*flagPeers == "" || *flagRank == 0) {
		progress = commandline.NewRoundProgress(stdout, config.NumRanks)
		config.OnRound = func(r ring.Round) {
			if r.Rank == 0 {
				progress.OnRound(r)
			}
		}
	}

	var result *ringmm.Result
	if *flagPeers == "" {
		result, err = runLocal(ctx, config)
	} else {
		result, err = runProcess(ctx, config)
	}
	if progress != nil {
		progress.Done()
	}
	if err != nil {
		klog.Errorf("%+v", err)
		return exitCode(err)
	}
	if result == nil {
		// Not rank 0.
		return exitSuccess
	}
	if err := ringmm.Report(config, result).Write(stdout); err != nil {
		klog.Errorf("writing report: %v", err)
	}
	if *flagVerify {
		if err := ringmm.Verify(config); err != nil {
			klog.Errorf("verification failed: %+v", err)
			return exitRuntime
		}
		_, _ = fmt.Fprintln(stdout, "Result verified.")
	}
	return exitSuccess
}

// buildConfig applies in order: the defaults, $RINGMM_CONFIG, the flags set explicitly and the positional
// arguments.
func buildConfig(args []string) (ringmm.Config, error) {
	config := ringmm.DefaultConfig()
	if err := config.ApplyEnv(); err != nil {
		return config, err
	}
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n":
			config.N = *flagN
		case "procs":
			config.NumRanks = *flagProcs
		case "out":
			config.OutputDir = *flagOut
		case "recv_timeout":
			config.RecvTimeout = *flagRecvTimeout
		case "send_timeout":
			config.SendTimeout = *flagSendTimeout
		case "io_timeout":
			config.IOTimeout = *flagIOTimeout
		case "offset":
			if config.Offset, err = multiply.ParseOffsetPolicy(*flagOffset); err != nil {
				err = errors.WithMessage(ringmm.ErrConfig, err.Error())
			}
		case "allow_row_remainder":
			config.AllowRowRemainder = *flagAllowRemainder
		}
	})
	if err != nil {
		return config, err
	}
	if *flagPeers != "" {
		config.NumRanks = len(peers())
	}

	if config.Threads, err = strconv.Atoi(args[0]); err != nil {
		return config, errors.WithMessagef(ringmm.ErrConfig, "invalid number of threads %q", args[0])
	}
	if config.RanksPerColor, err = strconv.Atoi(args[1]); err != nil {
		return config, errors.WithMessagef(ringmm.ErrConfig, "invalid ranks per color %q", args[1])
	}
	if config.Compact, err = ringmm.ParseCompact(args[2]); err != nil {
		return config, errors.WithMessagef(ringmm.ErrConfig, "invalid compact %q", args[2])
	}
	return config, config.Validate()
}

func peers() []string {
	var list []string
	for _, peer := range strings.Split(*flagPeers, ",") {
		if peer = strings.TrimSpace(peer); peer != "" {
			list = append(list, peer)
		}
	}
	return list
}

// runLocal runs all ranks in this process and returns the result of rank 0.
func runLocal(ctx context.Context, config ringmm.Config) (*ringmm.Result, error) {
	klog.V(1).Infof("job %s: running %d ranks × %d threads in-process (%d CPUs)",
		uuid.NewString(), config.NumRanks, config.Threads, workerspool.New().MaxParallelism())
	results, err := ringmm.RunLocal(ctx, config)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("rank 0 done in %s", commandline.FormatDuration(results[0].Elapsed()))
	return results[0], nil
}

// runProcess runs the rank of this process, connected to the others over gRPC.
// It returns the result only for rank 0.
func runProcess(ctx context.Context, config ringmm.Config) (*ringmm.Result, error) {
	jobID := *flagJob
	if jobID == "" {
		jobID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("ringmm:"+*flagPeers)).String()
	}
	t, err := grpcring.New(grpcring.Config{
		Rank:  *flagRank,
		Peers: peers(),
		JobID: jobID,
	})
	if err != nil {
		return nil, errors.WithMessage(ringmm.ErrConfig, err.Error())
	}
	defer func() {
		if err := t.Close(); err != nil {
			klog.Warningf("closing transport: %v", err)
		}
	}()
	result, err := ringmm.Run(ctx, config, t)
	if err != nil {
		return nil, err
	}
	klog.V(1).Infof("job %s: rank %d done in %s", jobID, t.Rank(), commandline.FormatDuration(result.Elapsed()))
	if t.Rank() != 0 {
		return nil, nil
	}
	return result, nil
}

// exitCode for a failed run: configuration and allocation errors exit with exitConfig, others with exitRuntime.
func exitCode(err error) int {
	if errors.Is(err, ringmm.ErrConfig) || errors.Is(err, matrix.ErrAllocation) {
		return exitConfig
	}
	return exitRuntime
}
