package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーとワーカーキューを起動することを示す。
	CommandServe Command = "serve"
	// CommandIngest はフィード取り込みワーカーを起動することを示す。
	CommandIngest Command = "ingest"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandBootstrap はシステムユーザーと組み込みソースを作成することを示す。
	CommandBootstrap Command = "bootstrap"
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
	case "serve":
		return CommandServe
	case "ingest":
		return CommandIngest
	case "migrate":
		return CommandMigrate
	case "bootstrap":
		return CommandBootstrap
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
