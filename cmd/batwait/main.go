package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/andrej220/bat/internal/lg"
	"github.com/andrej220/bat/pkg/config"
	"github.com/andrej220/bat/pkg/executor"
	"github.com/andrej220/bat/pkg/orchestrator"
	"github.com/andrej220/bat/pkg/persistence"
	"github.com/andrej220/bat/pkg/poller"
)

const defaultConfigPath = "bat.yaml"

// app is built once the config is loaded and shared by every subcommand.
type app struct {
	env      *config.Env
	logger   lg.Logger
	client   *orchestrator.Client
	remote   executor.RemoteRunner
	output   string
	cfgPath  string
	debug    bool
	mongoURI string
	mongoID  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "batwait",
		Short:         "Poll a deployment's instances and inspect them over ssh",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", defaultConfigPath, "environment config file (YAML)")
	root.PersistentFlags().StringVar(&a.mongoURI, "mongo-uri", "", "load the environment from MongoDB instead of --config")
	root.PersistentFlags().StringVar(&a.mongoID, "mongo-id", "", "environment document ID in MongoDB")
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVarP(&a.output, "output", "o", "json", "output format: json or yaml")

	root.AddCommand(
		a.waitCmd(),
		a.instanceCmd(),
		a.disksCmd(),
		a.mountsCmd(),
		a.swapsCmd(),
		a.sshCmd(),
	)
	return root
}

func (a *app) init() error {
	store, err := a.store()
	if err != nil {
		return err
	}
	env, err := config.Load(store)
	if err != nil {
		return err
	}
	if a.debug {
		env.Log.Debug = true
	}
	a.env = env
	a.logger = lg.New(env.LogConfig())
	a.client = orchestrator.NewClient(env.Runner(), env.Deployment, a.logger)
	a.remote = executor.NewSSHExecutor(a.logger, executor.WithCircuitBreaker(env.SSH.BreakerFailures))
	return nil
}

func (a *app) store() (config.Config, error) {
	if a.mongoURI != "" {
		return config.NewStore(config.MongoStore, &config.MongoConfig{
			URI:      a.mongoURI,
			DBName:   "bat",
			CollName: "environments",
			ID:       a.mongoID,
		})
	}
	return config.NewStore(config.FileStore, &config.FileConfig{Path: a.cfgPath})
}

func (a *app) print(cmd *cobra.Command, data any) error {
	return persistence.Print(cmd.OutOrStdout(), data, a.output)
}

func jobIndex(args []string) (string, int, error) {
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return "", 0, fmt.Errorf("index %q: %w", args[1], err)
	}
	return args[0], index, nil
}

func (a *app) waitCmd() *cobra.Command {
	var (
		process  bool
		timeout  time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "wait <job> <index> <state>",
		Short: "Wait until an instance's state (or process state) matches a pattern",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := jobIndex(args)
			if err != nil {
				return err
			}
			schedule := a.env.PollSchedule()
			if cmd.Flags().Changed("timeout") || cmd.Flags().Changed("attempts") {
				if attempts <= 0 {
					attempts = schedule.Attempts
				}
				if !cmd.Flags().Changed("timeout") {
					timeout = a.env.Poll.Timeout
				}
				schedule = poller.Config{Attempts: attempts, Interval: timeout / time.Duration(attempts)}
			}
			kind := poller.State
			if process {
				kind = poller.ProcessState
			}
			inst, err := poller.New(a.client, a.logger).WaitForState(cmd.Context(), kind, job, index, args[2], schedule)
			if err != nil {
				return err
			}
			return a.print(cmd, inst)
		},
	}
	cmd.Flags().BoolVar(&process, "process", false, "compare process_state instead of state")
	cmd.Flags().DurationVar(&timeout, "timeout", poller.DefaultTimeout, "total wait budget")
	cmd.Flags().IntVar(&attempts, "attempts", poller.DefaultAttempts, "number of inventory reads")
	return cmd
}

func (a *app) instanceCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "instance <job> <index>",
		Short: "Show the inventory entry of one instance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := jobIndex(args)
			if err != nil {
				return err
			}
			inst, ok, err := a.client.FindInstance(cmd.Context(), job, index)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s/%d", orchestrator.ErrInstanceNotFound, job, index)
			}
			if out != "" {
				return persistence.WriteJSON(inst, out)
			}
			return a.print(cmd, inst)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "write the entry to this JSON file")
	return cmd
}

func (a *app) disksCmd() *cobra.Command {
	var persistent bool
	cmd := &cobra.Command{
		Use:   "disks <job> <index>",
		Short: "Show an instance's df table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := jobIndex(args)
			if err != nil {
				return err
			}
			if persistent {
				blocks, err := a.client.PersistentDisk(cmd.Context(), job, index)
				if err != nil {
					return err
				}
				return a.print(cmd, map[string]string{"blocks": blocks})
			}
			disks, err := a.client.Disks(cmd.Context(), job, index)
			if err != nil {
				return err
			}
			return a.print(cmd, disks)
		},
	}
	cmd.Flags().BoolVar(&persistent, "persistent", false, "only the persistent disk's size in blocks")
	return cmd
}

func (a *app) mountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mounts <job> <index>",
		Short: "Show an instance's mount table",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := jobIndex(args)
			if err != nil {
				return err
			}
			mounts, err := a.client.Mounts(cmd.Context(), job, index)
			if err != nil {
				return err
			}
			return a.print(cmd, mounts)
		},
	}
}

func (a *app) swapsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "swaps <job> <index>",
		Short: "Show an instance's swap devices",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, index, err := jobIndex(args)
			if err != nil {
				return err
			}
			swaps, err := a.client.Swaps(cmd.Context(), job, index)
			if err != nil {
				return err
			}
			return a.print(cmd, swaps)
		},
	}
}

func (a *app) sshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ssh <host> <command>",
		Short: "Run one command on a host directly, with the configured key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := a.remote.RunRemote(cmd.Context(), args[0], a.env.SSH.User, args[1], a.env.RemoteOptions())
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		},
	}
}
