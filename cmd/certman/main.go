// Command certman はTLS証明書の有効期限を追跡するレジストリサーバーを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/certman/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// .envは任意。存在しない場合は環境変数のみを使用する
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
