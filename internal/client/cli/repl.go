package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Chats(ctx context.Context) error
	Users(ctx context.Context) error
	Online(ctx context.Context) error
	Find(ctx context.Context, term string) error
	OpenChat(ctx context.Context, username string) error
	CloseChat(ctx context.Context) error
	SendMessage(ctx context.Context, text string) error
	EditProfile(ctx context.Context) error
	Away(ctx context.Context) error
	Back(ctx context.Context) error
	Logout(ctx context.Context) error
}

// runREPL starts a simple read-eval-print loop for the chat client.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Prompt & Commands
//
// The prompt shows the current status (from statusFn) and accepts commands:
//
//	Not logged in:
//	  - help           — show available commands
//	  - register       — create an account
//	  - login          — authenticate
//	  - exit | quit    — leave the program
//
//	Logged in:
//	  - help           — show available commands
//	  - chats          — list conversations with previews and unread counts
//	  - users          — list all other users
//	  - online         — list users currently online
//	  - find <term>    — filter users by name
//	  - open <user>    — open the chat with a user
//	  - close          — leave the open chat
//	  - send <text>    — send a message to the open chat
//	  - profile        — edit your profile
//	  - away | back    — toggle your online status
//	  - logout         — sign out
//	  - exit | quit    — leave the program
//
// Any errors returned by command handlers are reported inline; the loop
// itself never exits on a handler error.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("saytro> %s > ", statusFn()))
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]
		rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn("Available commands: chats, users, online, find <term>, open <user>, close, send <text>, profile, away, back, logout, exit")
			} else {
				printlnFn("Available commands: register, login, exit")
			}

		case "register":
			err = a.Register(ctx)

		case "login":
			err = a.Login(ctx)

		case "c", "chats":
			err = a.Chats(ctx)

		case "u", "users":
			err = a.Users(ctx)

		case "online":
			err = a.Online(ctx)

		case "find":
			err = a.Find(ctx, rest)

		case "open":
			err = a.OpenChat(ctx, rest)

		case "close":
			err = a.CloseChat(ctx)

		case "send":
			err = a.SendMessage(ctx, rest)

		case "profile":
			err = a.EditProfile(ctx)

		case "away":
			err = a.Away(ctx)

		case "back":
			err = a.Back(ctx)

		case "logout":
			err = a.Logout(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn("Error:", err.Error())
		}
	}
}
