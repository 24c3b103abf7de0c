package controller

import (
	"context"

	"github.com/goccy/go-json"

	"weatherlive/internal/modules/weather/relay"
	"weatherlive/internal/modules/weather/types"
	"weatherlive/internal/websocket"
)

// subscriberRequestLimit is how many readings a subscriber request returns.
const subscriberRequestLimit = 10

// CityData is the payload of a cityWeatherData message.
type CityData struct {
	Location string          `json:"location"`
	Data     []types.Reading `json:"data"`
}

// HandleRequest answers a subscriber request by sending the result back to
// that subscriber only.
func (c *weatherControllerImpl) HandleRequest(ctx context.Context, clientID string, req websocket.Inbound) {
	switch req.Type {
	case RequestLatestData:
		c.sender.Send(clientID, relay.EventLatestWeatherData, c.queries.Latest(ctx, subscriberRequestLimit))
		c.logger.Debug("latest data sent", "client_id", clientID)

	case RequestCityData:
		var name string
		if err := json.Unmarshal(req.Data, &name); err != nil || name == "" {
			c.sender.Send(clientID, relay.EventError, websocket.ErrorData{Message: "requestCityData needs a location name"})
			return
		}
		c.sender.Send(clientID, relay.EventCityWeatherData, CityData{
			Location: name,
			Data:     c.queries.ByLocation(ctx, name, subscriberRequestLimit),
		})
		c.logger.Debug("city data sent", "client_id", clientID, "location", name)

	default:
		c.sender.Send(clientID, relay.EventError, websocket.ErrorData{Message: "unsupported message type: " + req.Type})
	}
}
