package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はフィード配信サーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は調整・重複排除のスケジューラモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandReconcile は調整処理を1回だけ実行することを示す。
	CommandReconcile Command = "reconcile"
	// CommandDedup は重複排除を1回だけ実行することを示す。
	CommandDedup Command = "dedup"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "reconcile":
		return CommandReconcile
	case "dedup":
		return CommandDedup
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
