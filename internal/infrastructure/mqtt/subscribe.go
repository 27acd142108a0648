package mqtt

import "fmt"

// Subscribe routes messages on topic to handler. Topic may use the + and #
// wildcards. The subscription is re-established after every reconnect.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.subscriptions[topic] = subscription{qos: qos, handler: handler}
	c.mu.Unlock()

	if err := await(c.client.Subscribe(topic, qos, c.wrapHandler(handler)), ErrSubscribeFailed); err != nil {
		c.mu.Lock()
		delete(c.subscriptions, topic)
		c.mu.Unlock()
		return err
	}
	return nil
}

// Unsubscribe drops the subscription registered for exactly topic.
// Messages already in flight may still reach the handler.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	delete(c.subscriptions, topic)
	c.mu.Unlock()

	return await(c.client.Unsubscribe(topic), ErrUnsubscribeFailed)
}

// HandleRefreshRequests subscribes to graylogic/gateway/device/+/refresh and
// calls fn with the device id of each request. Payloads are ignored.
func (c *Client) HandleRefreshRequests(fn func(deviceID string) error) error {
	topics := Topics{}
	return c.Subscribe(topics.AllRefreshRequests(), byte(c.cfg.QoS), func(topic string, _ []byte) error {
		id, ok := topics.DeviceIDFromTopic(topic)
		if !ok {
			return fmt.Errorf("malformed refresh topic %q", topic)
		}
		return fn(id)
	})
}

// SubscriptionCount returns the number of remembered subscriptions.
func (c *Client) SubscriptionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscriptions)
}

// HasSubscription reports whether exactly topic is subscribed. Wildcards are
// not matched.
func (c *Client) HasSubscription(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[topic]
	return ok
}
