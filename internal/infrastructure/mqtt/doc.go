// Package mqtt provides the vendorsync event bus on top of an MQTT broker.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored after reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Topics
//
//	{prefix}/system/status                     retained online/offline
//	{prefix}/event/change_record/{parameter}   measurement changed
//	{prefix}/event/change_request/{parameter}  outbound change announced
//	{prefix}/command/state/{parameter}         inbound change command
//	{prefix}/pushchannel/{server}/status       retained push channel phase
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllStateCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        id, ok := client.Topics().ParseStateCommand(topic)
//	        ...
//	    })
package mqtt
