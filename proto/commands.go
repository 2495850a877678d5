package proto

import (
	"fmt"
	"strings"
)

// CommandKind identifies one control command of the streaming server protocol.
type CommandKind int

const (
	CmdList CommandKind = iota
	CmdConnectDevice
	CmdSubscribe
	CmdPause
	CmdResume
	CmdDisconnect
)

// LostConnectionSentinel appears in server output when the wearable drops off the server.
const LostConnectionSentinel = "connection lost to device"

type commandTemplate struct {
	name string // protocol verb, used for errors and logs
	wire string // CRLF terminated, %s is the argument
	ack  string // LF terminated, empty when the reply is not matched exactly

	// reply the server sends without it being checked
	advisory string
}

var commandTable = map[CommandKind]commandTemplate{
	CmdList:          {name: "device_list", wire: "device_list\r\n"},
	CmdConnectDevice: {name: "device_connect", wire: "device_connect %s\r\n", ack: "R device_connect OK\n"},
	CmdSubscribe:     {name: "device_subscribe", wire: "device_subscribe %s ON\r\n", ack: "R device_subscribe %s OK\n"},
	CmdPause:         {name: "pause", wire: "pause ON\r\n", ack: "R pause ON\n"},
	CmdResume:        {name: "pause", wire: "pause OFF\r\n", advisory: "R pause OFF\n"},
	CmdDisconnect:    {name: "device_disconnect", wire: "device_disconnect\r\n"},
}

// Command is a command kind together with its optional argument
// (device id for ConnectDevice, stream code for Subscribe).
type Command struct {
	Kind CommandKind
	Arg  string
}

func List() Command                   { return Command{Kind: CmdList} }
func ConnectDevice(id string) Command { return Command{Kind: CmdConnectDevice, Arg: id} }
func Subscribe(code string) Command   { return Command{Kind: CmdSubscribe, Arg: code} }
func Pause() Command                  { return Command{Kind: CmdPause} }
func Resume() Command                 { return Command{Kind: CmdResume} }
func Disconnect() Command             { return Command{Kind: CmdDisconnect} }

// Name returns the protocol verb of the command.
func (c Command) Name() string {
	return commandTable[c.Kind].name
}

// Wire returns the exact text sent to the server.
func (c Command) Wire() string {
	return substitute(commandTable[c.Kind].wire, c.Arg)
}

// Ack returns the exact acknowledgement line the server is expected to reply with.
// The boolean is false for commands whose reply is not matched exactly.
func (c Command) Ack() (string, bool) {
	tmpl := commandTable[c.Kind].ack
	if tmpl == "" {
		return "", false
	}
	return substitute(tmpl, c.Arg), true
}

// Reply returns the line a server usually answers with when that answer is not validated.
func (c Command) Reply() (string, bool) {
	r := commandTable[c.Kind].advisory
	return r, r != ""
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Name()
	}
	return c.Name() + " " + c.Arg
}

func substitute(tmpl, arg string) string {
	if !strings.Contains(tmpl, "%s") {
		return tmpl
	}
	return fmt.Sprintf(tmpl, arg)
}
