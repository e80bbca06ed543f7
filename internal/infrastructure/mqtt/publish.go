package mqtt

import "fmt"

// maxPayloadSize bounds outbound payloads at 1 MiB.
const maxPayloadSize = 1 << 20

func checkTopicQoS(topic string, qos byte) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	return nil
}

// Publish sends payload and blocks until the broker acknowledges it (QoS
// 1 and 2) or the write completes (QoS 0). While disconnected it fails
// with ErrNotConnected instead of letting paho queue the message.
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if err := checkTopicQoS(topic, qos); err != nil {
		return err
	}
	if n := len(payload); n > maxPayloadSize {
		return fmt.Errorf("%w: %d byte payload exceeds %d", ErrPublishFailed, n, maxPayloadSize)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return await(c.paho.Publish(topic, qos, retained, payload), ErrPublishFailed, topic)
}

// Subscribe installs handler for filter and waits for the SUBACK.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler) error {
	if err := checkTopicQoS(filter, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %s", ErrSubscribeFailed, filter)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if err := await(c.paho.Subscribe(filter, qos, c.guard(handler)), ErrSubscribeFailed, filter); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[filter] = qos
	c.mu.Unlock()
	return nil
}

// HasSubscription reports whether filter is subscribed on this connection.
func (c *Client) HasSubscription(filter string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[filter]
	return ok
}
