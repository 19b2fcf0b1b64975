/*
Chat client over the circuit transport
*/
package main

import (
	"github.com/openvw/lludp/cmd/lludp-chat/commands"
)

func main() {
	commands.Execute()
}
