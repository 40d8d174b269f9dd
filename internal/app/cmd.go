package app

import "slices"

// Command は eventexplorer バイナリのサブコマンド。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はフィード取り込み・天気更新・セッション掃除のワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はSTORE_DRIVERに応じてスキーマを最新化して終了する。
	CommandMigrate Command = "migrate"
	// CommandSeed は管理者ユーザーと初期カタログを登録して終了する。
	CommandSeed Command = "seed"
	// CommandHealthcheck は稼働中のAPIサーバーの/api/healthを確認する。
	// シェルのないdistrolessイメージのHEALTHCHECKで使う。
	CommandHealthcheck Command = "healthcheck"
)

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandSeed, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数なし、または未知の値はCommandServeとして扱う。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if c := Command(args[0]); slices.Contains(commands, c) {
		return c
	}
	return CommandServe
}
