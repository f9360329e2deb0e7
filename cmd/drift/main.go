// Package main はdrift CLIのエントリポイント。
package main

import "drift/pkg/cli"

func main() {
	cli.Execute()
}
