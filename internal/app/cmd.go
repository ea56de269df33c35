package app

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/hitoshi/loginlog/internal/config"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はHTTPサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションのスイープワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// rootOptions は全サブコマンド共通のフラグ。
type rootOptions struct {
	envFile string
}

// NewRootCommand はloginlogのルートコマンドを生成する。
// サブコマンドを省略した場合はserveとして動作する。
// ログはwに出力する。
func NewRootCommand(w io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "loginlog",
		Short:         "Google sign-in with server-side sessions and a per-user login history",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(cmd, w, opts, CommandServe)
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", config.DefaultDotEnvFile, "path to an optional .env file")

	root.AddCommand(
		newConfiguredCommand(w, opts, CommandServe, "Run the HTTP server"),
		newConfiguredCommand(w, opts, CommandWorker, "Periodically delete expired sessions"),
		newConfiguredCommand(w, opts, CommandMigrate, "Apply database migrations"),
		newHealthcheckCommand(),
	)
	return root
}

// newConfiguredCommand は設定の読み込みが必要なサブコマンドを生成する。
func newConfiguredCommand(w io.Writer, opts *rootOptions, command Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithConfig(cmd, w, opts, command)
		},
	}
}

// newHealthcheckCommand はヘルスチェックのサブコマンドを生成する。
// 軽量サブコマンドのため、設定の読み込みをスキップする。
func newHealthcheckCommand() *cobra.Command {
	var port string
	cmd := &cobra.Command{
		Use:   string(CommandHealthcheck),
		Short: "Check that the local server reports healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealthcheck(cmd.Context(), port)
		},
	}
	cmd.Flags().StringVar(&port, "port", defaultHealthcheckPort(), "port of the local server")
	return cmd
}
