package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

var confirmInput io.Reader = os.Stdin

func confirm(action string) bool {
	fmt.Printf("Are you sure you want to %s? (yes/no): ", action)
	line, _ := bufio.NewReader(confirmInput).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y", "true", "1":
		return true
	default:
		fmt.Println("Cancelled!")
		return false
	}
}
