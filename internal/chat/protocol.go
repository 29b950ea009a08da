package chat

import (
	"fmt"
	"strings"
	"unicode"
)

// Command words accepted once a session is active.
const (
	CmdWorld       = "WORLD"
	CmdPrivate     = "PRIVATE"
	CmdCreateGroup = "CREATEGROUP"
	CmdJoinGroup   = "JOINGROUP"
	CmdGroup       = "GROUP"
)

const (
	PromptOnboarding  = "Enter command: GUEST or REGISTER <username> <password>"
	NoticeNoCommand   = "No command received, disconnecting."
	NoticeInvalid     = "Invalid command, disconnecting."
	NoticeNameTaken   = "Username already exists, reconnect and choose another name."
	NoticeWorldJoined = "You have entered the world channel, send 'WORLD <message>' to chat."
	NoticeUnknown     = "Unknown command, please try again."
	NoticeSlowDown    = "Too many commands, slow down."

	UsageWorld       = "Usage: WORLD <message>"
	UsagePrivate     = "Usage: PRIVATE <username> <message>"
	UsageCreateGroup = "Usage: CREATEGROUP <groupname>"
	UsageJoinGroup   = "Usage: JOINGROUP <groupname>"
	UsageGroup       = "Usage: GROUP <groupname> <message>"
)

func welcomeGuest(name string) string {
	return fmt.Sprintf("Welcome, %s!", name)
}

func welcomeRegistered(name string) string {
	return fmt.Sprintf("Registration successful, welcome, %s!", name)
}

func noticeNotOnline(name string) string {
	return fmt.Sprintf("User %s does not exist or is not online.", name)
}

func noticeGroupExists(group string) string {
	return fmt.Sprintf("Group %s already exists.", group)
}

func noticeGroupCreated(group string) string {
	return "Created and joined group: " + group
}

func noticeGroupMissing(group string) string {
	return fmt.Sprintf("Group %s does not exist.", group)
}

func noticeGroupJoined(group string) string {
	return "Joined group: " + group
}

func noticeNotMember(group string) string {
	return "You have not joined group: " + group
}

func formatWorld(sender, text string) string {
	return fmt.Sprintf("[world] %s: %s", sender, text)
}

func formatPrivate(sender, text string) string {
	return fmt.Sprintf("[private] %s: %s", sender, text)
}

func formatGroup(group, sender, text string) string {
	return fmt.Sprintf("[group %s] %s: %s", group, sender, text)
}

// ParseError is a protocol error whose Notice is sent back to the client.
type ParseError struct {
	Notice string
}

func (e *ParseError) Error() string { return e.Notice }

// Onboarding is the parsed first line of a connection.
type Onboarding struct {
	Guest    bool
	Username string
	Password string // accepted as an opaque token, never checked
}

// ParseOnboarding parses the single line a client sends before it is
// registered. A blank line yields NoticeNoCommand.
func ParseOnboarding(line string) (Onboarding, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Onboarding{}, &ParseError{Notice: NoticeNoCommand}
	}
	switch strings.ToUpper(fields[0]) {
	case "GUEST":
		return Onboarding{Guest: true}, nil
	case "REGISTER":
		if len(fields) == 3 {
			return Onboarding{Username: fields[1], Password: fields[2]}, nil
		}
	}
	return Onboarding{}, &ParseError{Notice: NoticeInvalid}
}

// Command is an active-state command line after argument validation.
type Command struct {
	Name   string // one of the Cmd* words
	Target string // user or group name, empty for WORLD
	Text   string
}

// ParseCommand splits line into at most three tokens: the command word, the
// first argument and the rest of the line.
func ParseCommand(line string) (Command, error) {
	parts := splitArgs(line, 2)
	if len(parts) == 0 {
		return Command{}, &ParseError{Notice: NoticeUnknown}
	}

	name := strings.ToUpper(parts[0])
	switch name {
	case CmdWorld:
		if len(parts) < 2 {
			return Command{}, &ParseError{Notice: UsageWorld}
		}
		return Command{Name: name, Text: strings.Join(parts[1:], " ")}, nil
	case CmdPrivate:
		if len(parts) < 3 {
			return Command{}, &ParseError{Notice: UsagePrivate}
		}
		return Command{Name: name, Target: parts[1], Text: parts[2]}, nil
	case CmdCreateGroup:
		if len(parts) < 2 {
			return Command{}, &ParseError{Notice: UsageCreateGroup}
		}
		return Command{Name: name, Target: parts[1]}, nil
	case CmdJoinGroup:
		if len(parts) < 2 {
			return Command{}, &ParseError{Notice: UsageJoinGroup}
		}
		return Command{Name: name, Target: parts[1]}, nil
	case CmdGroup:
		if len(parts) < 3 {
			return Command{}, &ParseError{Notice: UsageGroup}
		}
		return Command{Name: name, Target: parts[1], Text: parts[2]}, nil
	default:
		return Command{}, &ParseError{Notice: NoticeUnknown}
	}
}

// splitArgs splits s on runs of whitespace at most n times. The final element
// holds the unsplit remainder with its inner spacing intact.
func splitArgs(s string, n int) []string {
	s = strings.TrimSpace(s)
	var parts []string
	for s != "" && len(parts) < n {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			break
		}
		parts = append(parts, s[:i])
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
