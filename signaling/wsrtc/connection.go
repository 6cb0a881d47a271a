/*
 * SPDX-License-Identifier: AGPL-3.0-or-later
 * Copyright 2020 Kopano and its licensors
 */

package wsrtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"nhooyr.io/websocket"

	"stash.kopano.io/kwm/kwmwhip/internal/bpool"
	"stash.kopano.io/kwm/kwmwhip/internal/negotiation"
	api "stash.kopano.io/kwm/kwmwhip/signaling/api-v0"
)

var errBye = errors.New("bye")

// Connection is one websocket signaling connection. All offers received on
// a connection are negotiated by the same exchange.
type Connection struct {
	id      string
	ctx     context.Context
	ws      *websocket.Conn
	manager *Manager
	logger  logrus.FieldLogger

	exchange *negotiation.Exchange
}

func (c *Connection) serve() {
	if err := c.send(&Message{Type: TypeHello, ID: c.id}); err != nil {
		c.logger.WithError(err).Debugln("failed to send hello")
		return
	}

	err := c.readPump()

	if c.exchange != nil {
		if closeErr := c.exchange.Close(); closeErr != nil {
			c.logger.WithError(closeErr).Warnln("failed to close exchange")
		}
	}

	switch {
	case err == nil, errors.Is(err, errBye):
		c.ws.Close(websocket.StatusNormalClosure, "")
	case errors.Is(err, context.Canceled):
		c.ws.Close(websocket.StatusGoingAway, "server shutdown")
	default:
		c.ws.Close(websocket.StatusInternalError, "")
	}
}

func (c *Connection) readPump() error {
	var mt websocket.MessageType
	var reader io.Reader
	var b *bytes.Buffer
	var err error
	for {
		mt, reader, err = c.ws.Reader(c.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				c.logger.WithField("status_code", websocket.CloseStatus(err)).Debugln("websocket connection close")
				return nil
			}
			c.logger.WithError(err).Debugln("websocket connection failed to get reader")
			return nil
		}

		b = bpool.Get()
		if _, err = b.ReadFrom(reader); err != nil {
			bpool.Put(b)
			return err
		}

		switch mt {
		case websocket.MessageText:
		default:
			bpool.Put(b)
			c.logger.WithField("message_type", mt).Warnln("websocket connection received unknown websocket message type")
			continue
		}

		message := &Message{}
		err = json.Unmarshal(b.Bytes(), message)
		bpool.Put(b)
		if err != nil {
			c.logger.WithError(err).Debugln("websocket message parse error")
			err = c.sendError(ErrorCodeInvalidMessage, "message is not valid json")
		} else {
			err = c.handleMessage(message)
		}
		if err != nil {
			return err
		}
	}
}

func (c *Connection) handleMessage(message *Message) error {
	switch message.Type {
	case TypeOffer:
		return c.handleOffer(message)

	case TypeBye:
		return errBye

	default:
		c.logger.WithField("type", message.Type).Debugln("websocket connection received unknown message type")
		return c.sendError(ErrorCodeUnknownMessageType, fmt.Sprintf("unknown message type %q", message.Type))
	}
}

func (c *Connection) handleOffer(message *Message) error {
	role, ok := negotiation.ParseRole(message.Role)
	if !ok {
		return c.sendError(ErrorCodeInvalidMessage, fmt.Sprintf("unknown role %q", message.Role))
	}

	if c.exchange == nil {
		exchange, err := negotiation.NewExchange(&negotiation.ExchangeOptions{
			ID:   c.id,
			Role: role,

			Logger:  c.logger,
			Metrics: c.manager.options.Metrics,

			Capabilities: c.manager.options.Capabilities,
			Transport:    c.manager.options.Transport,
			Policy:       c.manager.config.Policy,
		})
		if err != nil {
			return fmt.Errorf("failed to create exchange: %w", err)
		}
		c.exchange = exchange
	} else if c.exchange.Role() != role {
		return c.sendError(ErrorCodeRoleMismatch, fmt.Sprintf("connection role is %s", c.exchange.Role()))
	}

	answer, err := c.exchange.HandleOffer(message.SDP)
	if err != nil {
		c.logger.WithError(err).Debugln("websocket offer rejected")
		apiErr := api.NewErrorFromNegotiation(err)
		return c.sendError(apiErr.Code, apiErr.Message)
	}

	return c.send(&Message{
		Type:    TypeAnswer,
		SDP:     answer,
		Session: c.exchange.Current().ID(),
	})
}

func (c *Connection) sendError(code, message string) error {
	return c.send(&Message{
		Type:    TypeError,
		Code:    code,
		Message: message,
	})
}

func (c *Connection) send(message *Message) error {
	b := bpool.Get()
	defer bpool.Put(b)

	if err := json.NewEncoder(b).Encode(message); err != nil {
		return err
	}
	return c.ws.Write(c.ctx, websocket.MessageText, b.Bytes())
}
