package main

import (
	"github.com/tutti-audio/tutti-core/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	Execute()
}
