package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

// GlobalOptions apply to every command.
type GlobalOptions struct {
	APIURL    string `long:"api" description:"messaging API base URL (overrides QUARTISSIMO_API_URL)"`
	TokenFile string `long:"token-file" description:"where the bearer token is stored (overrides QUARTISSIMO_TOKEN_FILE)"`
}

var globalOptions GlobalOptions

var (
	loginCommand         Login
	notificationsCommand Notifications
	readCommand          Read
	chatCommand          Chat
	statusCommand        Status
)

var parser = flags.NewParser(&globalOptions, flags.Default)

func main() {
	parser.AddCommand("login",
		"store a bearer token",
		"The login command stores the token issued by the platform so later commands can authenticate",
		&loginCommand)
	parser.AddCommand("notifications",
		"list notifications",
		"The notifications command lists notifications derived from your inbound messages, newest first",
		&notificationsCommand)
	parser.AddCommand("read",
		"mark notifications as read",
		"The read command marks one notification, or all of them, as read",
		&readCommand)
	parser.AddCommand("chat",
		"open a conversation",
		"The chat command shows a conversation and sends each line typed on stdin",
		&chatCommand)
	parser.AddCommand("status",
		"show whether a user is online",
		"The status command asks the server whether a user currently has an open connection",
		&statusCommand)

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}
