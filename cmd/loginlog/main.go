// Command loginlog はGoogleサインインとログイン履歴を提供するサーバーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/loginlog/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "loginlog: %v\n", err)
		os.Exit(1)
	}
}
