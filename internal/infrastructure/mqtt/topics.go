package mqtt

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "vendorsync"

// Topics builds vendorsync MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "vendorsync"}
//	topics.ChangeRecord(42) // "vendorsync/event/change_record/42"
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// SystemStatus returns the retained online/offline status topic.
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// ChangeRecord returns the topic a measurement change notification is published on.
func (t Topics) ChangeRecord(parameterID int64) string {
	return fmt.Sprintf("%s/event/change_record/%d", t.prefix(), parameterID)
}

// ChangeRequest returns the topic an outbound change request is announced on.
func (t Topics) ChangeRequest(parameterID int64) string {
	return fmt.Sprintf("%s/event/change_request/%d", t.prefix(), parameterID)
}

// AllEvents matches every change_record and change_request event.
func (t Topics) AllEvents() string {
	return t.prefix() + "/event/#"
}

// StateCommand returns the topic other services publish change commands to.
func (t Topics) StateCommand(parameterID int64) string {
	return fmt.Sprintf("%s/command/state/%d", t.prefix(), parameterID)
}

// AllStateCommands matches StateCommand for every parameter.
func (t Topics) AllStateCommands() string {
	return t.prefix() + "/command/state/+"
}

// PushChannelStatus returns the retained push channel phase topic for a vendor server.
func (t Topics) PushChannelStatus(server string) string {
	return fmt.Sprintf("%s/pushchannel/%s/status", t.prefix(), server)
}

// ParseStateCommand extracts the parameter id from a StateCommand topic.
func (t Topics) ParseStateCommand(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/command/state/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
