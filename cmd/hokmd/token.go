package main

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ParisaSokuti/DS-project-sub000/internal/auth"
)

// TokenCmd mints a development token for a display name. Production
// deployments use the external issuer; this exists so a local server
// with a token key is usable without one.
type TokenCmd struct {
	Key      string `kong:"required,env='HOKM_TOKEN_KEY',help='HMAC key the server verifies with'"`
	Name     string `kong:"required,help='Display name to bind'"`
	PlayerID string `kong:"help='Player id to bind; generated when omitted'"`
}

func (c *TokenCmd) Run() error {
	playerID := c.PlayerID
	if playerID == "" {
		playerID = uuid.NewString()
	}
	token, err := auth.Mint([]byte(c.Key), playerID, c.Name)
	if err != nil {
		return err
	}
	fmt.Printf("player_id: %s\ntoken: %s\n", playerID, token)
	return nil
}
