package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lodestarlabs/marksync/internal/app"
	"github.com/lodestarlabs/marksync/internal/client"
	"github.com/lodestarlabs/marksync/internal/config"
	"github.com/lodestarlabs/marksync/internal/logging"
	"github.com/lodestarlabs/marksync/internal/reconcile"
	"github.com/lodestarlabs/marksync/internal/signal"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "marksync",
		Short: "Marksync bookmark terminal client",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("api-base-url", defaults.GetString("api.base_url"), "Marksync API base URL")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for cross-instance sync (optional)")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "api.base_url", "api-base-url")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runClient(ctx context.Context) error {
	appConfig, err := config.LoadClient(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	sessions, err := client.NewSessionProvider(client.SessionProviderConfig{
		BaseURL: appConfig.APIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	var signals signal.Broadcaster
	if strings.TrimSpace(appConfig.RedisAddress) != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: appConfig.RedisAddress})
		defer redisClient.Close()
		signals = signal.NewRedisBroadcaster(redisClient, logger)
	}

	application, err := app.New(app.Config{
		Sessions: sessions,
		StoreFactory: func(session *client.Session) (app.Store, error) {
			storeClient, err := client.New(client.Config{
				BaseURL:     appConfig.APIBaseURL,
				AccessToken: session.AccessToken,
				Logger:      logger,
			})
			if err != nil {
				return nil, err
			}
			return storeClient, nil
		},
		Signals: signals,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	if err := application.Start(ctx); err != nil {
		return err
	}
	defer application.Stop()

	loop := &commandLoop{
		ctx:      ctx,
		sessions: sessions,
		app:      application,
		out:      os.Stdout,
	}
	return loop.run(os.Stdin)
}

type commandLoop struct {
	ctx      context.Context
	sessions *client.SessionProvider
	app      *app.App
	out      *os.File

	unwatch func()
}

func (l *commandLoop) run(input *os.File) error {
	fmt.Fprintln(l.out, "marksync — type 'help' for commands")
	scanner := bufio.NewScanner(input)
	l.prompt()
	for scanner.Scan() {
		if l.ctx.Err() != nil {
			return l.ctx.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			l.prompt()
			continue
		}
		if quit := l.dispatch(fields[0], fields[1:]); quit {
			return nil
		}
		l.prompt()
	}
	return scanner.Err()
}

func (l *commandLoop) prompt() {
	if session, err := l.sessions.CurrentSession(); err == nil {
		fmt.Fprintf(l.out, "%s> ", session.Email)
		return
	}
	fmt.Fprint(l.out, "> ")
}

func (l *commandLoop) dispatch(command string, args []string) (quit bool) {
	switch command {
	case "signin":
		l.signIn(args)
	case "signout":
		l.signOut()
	case "add":
		l.add(args)
	case "list":
		l.list()
	case "delete", "rm":
		l.delete(args)
	case "help":
		l.help()
	case "quit", "exit":
		return true
	default:
		fmt.Fprintf(l.out, "unknown command %q — type 'help'\n", command)
	}
	return false
}

func (l *commandLoop) help() {
	fmt.Fprintln(l.out, "  signin <email>       sign in")
	fmt.Fprintln(l.out, "  add <url> <title...> save a bookmark")
	fmt.Fprintln(l.out, "  list                 show bookmarks, newest first")
	fmt.Fprintln(l.out, "  delete <number>      delete a bookmark by list position")
	fmt.Fprintln(l.out, "  signout              sign out")
	fmt.Fprintln(l.out, "  quit                 exit")
}

func (l *commandLoop) signIn(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(l.out, "usage: signin <email>")
		return
	}
	session, err := l.sessions.SignIn(l.ctx, args[0])
	if err != nil {
		fmt.Fprintf(l.out, "sign-in failed: %v\n", err)
		return
	}
	fmt.Fprintf(l.out, "signed in as %s\n", session.Email)
	l.watchWorkspace()
}

func (l *commandLoop) signOut() {
	if l.unwatch != nil {
		l.unwatch()
		l.unwatch = nil
	}
	l.sessions.SignOut()
	fmt.Fprintln(l.out, "signed out")
}

// watchWorkspace prints a short notice whenever the collection changes
// underneath the prompt, so edits from other instances show up live.
func (l *commandLoop) watchWorkspace() {
	workspace, mounted := l.app.Workspace()
	if !mounted {
		return
	}
	if l.unwatch != nil {
		l.unwatch()
	}
	l.unwatch = workspace.List.OnChange(func() {
		fmt.Fprintf(l.out, "\n[%d bookmarks — 'list' to view]\n", len(workspace.List.Snapshot()))
	})
}

func (l *commandLoop) workspace() (*app.Workspace, bool) {
	workspace, mounted := l.app.Workspace()
	if !mounted {
		fmt.Fprintln(l.out, "sign in first: signin <email>")
	}
	return workspace, mounted
}

func (l *commandLoop) add(args []string) {
	workspace, mounted := l.workspace()
	if !mounted {
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(l.out, "usage: add <url> <title...>")
		return
	}
	workspace.Form.SetURL(args[0])
	workspace.Form.SetTitle(strings.Join(args[1:], " "))
	stored, err := workspace.Form.Submit(l.ctx)
	if err != nil {
		fmt.Fprintf(l.out, "add failed: %v\n", err)
		return
	}
	fmt.Fprintf(l.out, "saved %q\n", stored.Title)
}

func (l *commandLoop) list() {
	workspace, mounted := l.workspace()
	if !mounted {
		return
	}
	switch workspace.List.State() {
	case reconcile.StateLoading:
		fmt.Fprintln(l.out, "loading…")
		return
	case reconcile.StateLoadFailed:
		fmt.Fprintln(l.out, "could not load bookmarks — check the connection and try again")
		if err := workspace.List.Refresh(l.ctx); err != nil {
			return
		}
	}
	items := workspace.List.Snapshot()
	if len(items) == 0 {
		fmt.Fprintln(l.out, "no bookmarks yet")
		return
	}
	for position, item := range items {
		fmt.Fprintf(l.out, "%3d. %s\n     %s\n", position+1, item.Title, item.URL)
	}
}

func (l *commandLoop) delete(args []string) {
	workspace, mounted := l.workspace()
	if !mounted {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(l.out, "usage: delete <number>")
		return
	}
	position, err := strconv.Atoi(args[0])
	items := workspace.List.Snapshot()
	if err != nil || position < 1 || position > len(items) {
		fmt.Fprintf(l.out, "no bookmark at position %q\n", args[0])
		return
	}
	target := items[position-1]
	if err := workspace.List.Delete(l.ctx, target.ID); err != nil {
		fmt.Fprintf(l.out, "delete failed: %v\n", err)
		return
	}
	fmt.Fprintf(l.out, "deleted %q\n", target.Title)
}
