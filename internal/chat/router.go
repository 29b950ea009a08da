package chat

import "errors"

// Dispatch routes a validated command from sender. Notices for the sender and
// deliveries to other users are queued on their outbound channels; nothing is
// written to a socket directly.
func Dispatch(reg *Registry, sender *Client, cmd Command) {
	MessagesTotal.WithLabelValues(cmd.Name).Inc()

	switch cmd.Name {
	case CmdWorld:
		routeWorld(reg, sender, cmd.Text)
	case CmdPrivate:
		routePrivate(reg, sender, cmd.Target, cmd.Text)
	case CmdCreateGroup:
		routeCreateGroup(reg, sender, cmd.Target)
	case CmdJoinGroup:
		routeJoinGroup(reg, sender, cmd.Target)
	case CmdGroup:
		routeGroup(reg, sender, cmd.Target, cmd.Text)
	default:
		sendLine(sender, NoticeUnknown)
	}
}

func routeWorld(reg *Registry, sender *Client, text string) {
	line := formatWorld(sender.Username, text)
	for _, c := range reg.Online() {
		if c == sender {
			continue
		}
		sendLine(c, line)
	}
}

func routePrivate(reg *Registry, sender *Client, target, text string) {
	receiver, ok := reg.Lookup(target)
	if !ok {
		sendLine(sender, noticeNotOnline(target))
		return
	}
	sendLine(receiver, formatPrivate(sender.Username, text))
}

func routeCreateGroup(reg *Registry, sender *Client, group string) {
	switch err := reg.CreateGroup(group, sender.Username); {
	case err == nil:
		sendLine(sender, noticeGroupCreated(group))
	case errors.Is(err, ErrAlreadyExists):
		sendLine(sender, noticeGroupExists(group))
	}
}

func routeJoinGroup(reg *Registry, sender *Client, group string) {
	switch err := reg.JoinGroup(group, sender.Username); {
	case err == nil:
		sendLine(sender, noticeGroupJoined(group))
	case errors.Is(err, ErrNotFound):
		sendLine(sender, noticeGroupMissing(group))
	}
}

func routeGroup(reg *Registry, sender *Client, group, text string) {
	recipients, err := reg.GroupRecipients(group, sender.Username)
	if errors.Is(err, ErrNotMember) {
		sendLine(sender, noticeNotMember(group))
		return
	}
	if err != nil {
		return
	}
	line := formatGroup(group, sender.Username, text)
	for _, c := range recipients {
		sendLine(c, line)
	}
}
