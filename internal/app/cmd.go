package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は証明書スキャンワーカーとして起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はPostgreSQLのスキーママイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandCheck は引数のドメインの証明書を登録せずに確認し、結果をJSON Linesで出力する。
	CommandCheck Command = "check"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

var commands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandCheck):       CommandCheck,
	string(CommandHealthcheck): CommandHealthcheck,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// commandArgs はサブコマンド名を除いた引数を返す。
func commandArgs(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	if _, ok := commands[args[0]]; !ok {
		return nil
	}
	return args[1:]
}
