// Command cvcsreplay replays a CVCS project's changeset history into a
// DVCS repository, one branch worktree per inferred server-path prefix.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cvcsreplay/cvcsreplay/internal/branch"
	"github.com/cvcsreplay/cvcsreplay/internal/checkpoint"
	"github.com/cvcsreplay/cvcsreplay/internal/config"
	"github.com/cvcsreplay/cvcsreplay/internal/cvcsclient"
	"github.com/cvcsreplay/cvcsreplay/internal/dvcs"
	"github.com/cvcsreplay/cvcsreplay/internal/integrity"
	"github.com/cvcsreplay/cvcsreplay/internal/replay"
	"github.com/cvcsreplay/cvcsreplay/internal/session"
	"github.com/cvcsreplay/cvcsreplay/internal/source"
)

var (
	configPath string

	tfsEndpoint        string
	projectPath        string
	outputDir          string
	primaryName        string
	fromCID            int
	withIntegrityCheck bool
	resume             bool
	gitBinaryPath      string
	logPath            string
	dryRun             bool
	useGitDiff         bool

	authMode string
	username string
	password string
	token    string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&configPath, "config", "", "YAML config file; flags below override its values")
	flags.StringVar(&tfsEndpoint, "tfs-endpoint", "", "CVCS server endpoint URL")
	flags.StringVar(&projectPath, "project-path", "", "CVCS server-rooted project path to replay")
	flags.StringVar(&outputDir, "output-dir", "", "directory to create branch worktrees under")
	flags.StringVar(&primaryName, "primary-name", "", "branch name for the project root (default \"main\")")
	flags.IntVar(&fromCID, "from-cid", 0, "first changeset id to replay")
	flags.BoolVar(&withIntegrityCheck, "with-integrity-check", false, "re-download and diff every replayed file")
	flags.BoolVar(&resume, "resume", false, "resume from the last checkpoint in output-dir")
	flags.StringVar(&gitBinaryPath, "git-binary-path", "", "git binary, optionally with leading options (default \"git\")")
	flags.StringVar(&logPath, "log-path", "", "log file path; defaults to stderr")
	flags.BoolVar(&dryRun, "dry-run", false, "classify, sort and dispatch without writing files, staging or committing; the repository and branch worktrees are still created")
	flags.BoolVar(&useGitDiff, "use-git-diff", false, "verify integrity via git diff --no-index -w instead of an in-process diff")
	flags.StringVar(&authMode, "auth-mode", "integrated", "integrated|basic|token")
	flags.StringVar(&username, "username", "", "basic auth username")
	flags.StringVar(&password, "password", "", "basic auth password")
	flags.StringVar(&token, "token", "", "bearer token")
}

var rootCmd = &cobra.Command{
	Use:   "cvcsreplay",
	Short: "Replay a CVCS changeset history into a DVCS repository",
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sess, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}

	driver, err := dvcs.New(cfg.GitBinaryPath, sess.Log)
	if err != nil {
		return fmt.Errorf("initializing driver: %w", err)
	}

	primaryWorktree := cfg.OutputDir + "/" + cfg.PrimaryName
	if !cfg.Resume {
		if err := driver.Init(primaryWorktree, cfg.PrimaryName); err != nil {
			return fmt.Errorf("initializing primary worktree: %w", err)
		}
		if err := driver.ConfigureRepo(primaryWorktree); err != nil {
			return fmt.Errorf("configuring primary worktree: %w", err)
		}
	}

	registry := branch.New(cfg.ProjectPath, cfg.OutputDir, cfg.PrimaryName, driver, sess.Log)
	client := cvcsclient.NewClient(cfg)
	resolver := source.New(registry, sess.Hashes, driver, cfg.ProjectPath, sess.Log)

	var verifier *integrity.Verifier
	if cfg.WithIntegrityCheck {
		verifier = integrity.New(client, driver, sess.Log, cfg.UseGitDiff, "")
	}
	cp := checkpoint.New(cfg.OutputDir)

	engine := replay.New(sess, client, driver, registry, resolver, verifier, cp, cfg.ProjectPath, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Run(ctx); err != nil {
		var fatal *replay.FatalError
		if errors.As(err, &fatal) {
			sess.Log.WithError(err).Error("replay aborted")
			return err
		}
		sess.Log.WithError(err).Error("replay failed")
		return err
	}
	return nil
}

func buildConfig() (*config.Config, error) {
	var cfg *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = &config.Config{}
	}

	if tfsEndpoint != "" {
		cfg.TFSEndpoint = tfsEndpoint
	}
	if projectPath != "" {
		cfg.ProjectPath = projectPath
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	if primaryName != "" {
		cfg.PrimaryName = primaryName
	}
	if fromCID != 0 {
		cfg.FromCID = fromCID
	}
	cfg.WithIntegrityCheck = cfg.WithIntegrityCheck || withIntegrityCheck
	cfg.Resume = cfg.Resume || resume
	if gitBinaryPath != "" {
		cfg.GitBinaryPath = gitBinaryPath
	}
	if logPath != "" {
		cfg.LogPath = logPath
	}
	cfg.DryRun = cfg.DryRun || dryRun
	cfg.UseGitDiff = cfg.UseGitDiff || useGitDiff

	auth, err := buildAuth()
	if err != nil {
		return nil, err
	}
	if auth != nil {
		cfg.Auth = auth
	}
	return cfg, nil
}

func buildAuth() (config.AuthMethod, error) {
	switch authMode {
	case "", "integrated":
		if username != "" {
			return config.IntegratedAuth{Credential: &config.Credential{Username: username, Password: password}}, nil
		}
		return config.IntegratedAuth{}, nil
	case "basic":
		if username == "" {
			return nil, fmt.Errorf("auth-mode basic requires --username")
		}
		return config.BasicAuth{Credential: config.Credential{Username: username, Password: password}}, nil
	case "token":
		if token == "" {
			return nil, fmt.Errorf("auth-mode token requires --token")
		}
		return config.TokenAuth{Token: token}, nil
	default:
		return nil, fmt.Errorf("unknown auth-mode %q", authMode)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
