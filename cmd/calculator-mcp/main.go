// Command calculator-mcp runs the calculator MCP server over stdio. It is
// the built-in server used to try out the chat client without installing
// external MCP servers.
package main

import (
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/telnet2/mcpchat/pkg/mcpserver/calculator"
)

func main() {
	s := calculator.NewServer()
	if err := server.ServeStdio(s); err != nil {
		log.Fatal(err)
	}
}
