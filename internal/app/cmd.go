package app

import (
	"fmt"
	"strings"
)

// Command はサブコマンド（起動モード）。
type Command string

const (
	CommandServe       Command = "serve"       // APIサーバー
	CommandMigrate     Command = "migrate"     // スキーマの適用
	CommandSeed        Command = "seed"        // 初期アカウントの投入
	CommandHealthcheck Command = "healthcheck" // distrolessイメージのHEALTHCHECK用
)

var knownCommands = []Command{CommandServe, CommandMigrate, CommandSeed, CommandHealthcheck}

// ParseCommand は先頭の引数をサブコマンドとして解釈する。
// 引数が無い場合はserveとする。未知のサブコマンドはエラーにし、
// 打ち間違いでサーバーが起動しないようにする。2つ目以降の引数は無視する。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range knownCommands {
		if Command(args[0]) == c {
			return c, nil
		}
	}

	names := make([]string, len(knownCommands))
	for i, c := range knownCommands {
		names[i] = string(c)
	}
	return "", fmt.Errorf("unknown command %q (want one of: %s)", args[0], strings.Join(names, ", "))
}
