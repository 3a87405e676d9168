package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ClientSeed is an OAuth client registered from the clients file on startup.
type ClientSeed struct {
	ID          string `yaml:"id"`
	Secret      string `yaml:"secret"`
	RedirectURI string `yaml:"redirect_uri"`
}

type clientsFile struct {
	Clients []ClientSeed `yaml:"clients"`
}

func LoadClients(path string) ([]ClientSeed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f clientsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	for i, c := range f.Clients {
		if strings.TrimSpace(c.ID) == "" || strings.TrimSpace(c.Secret) == "" || strings.TrimSpace(c.RedirectURI) == "" {
			return nil, fmt.Errorf("client %d: id, secret and redirect_uri are required", i)
		}
	}
	return f.Clients, nil
}
