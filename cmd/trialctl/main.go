// Command trialctl запускает задачи жизненного цикла триала вручную или по расписанию
// и выпускает служебные токены для эндпоинта очистки.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
