package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	Token      string `mapstructure:"token"`
	AuthMethod string `mapstructure:"auth_method"` // "token" or "approle"
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"` // e.g. "tradefleet/production"
	Namespace  string `mapstructure:"namespace"`
	RoleID     string `mapstructure:"role_id"`
	SecretID   string `mapstructure:"secret_id"`
}

// VaultClient wraps the HashiCorp Vault client for secrets management
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates a new Vault client from configuration
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	// Vault Enterprise namespaces
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		if cfg.Token == "" {
			cfg.Token = os.Getenv("VAULT_TOKEN")
		}
		if cfg.Token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(cfg.Token)

	case "approle":
		if err := authenticateAppRole(client, cfg); err != nil {
			return nil, fmt.Errorf("AppRole authentication failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{
		client: client,
		config: cfg,
	}, nil
}

// authenticateAppRole performs AppRole login and adopts the returned token
func authenticateAppRole(client *vault.Client, cfg VaultConfig) error {
	roleID := cfg.RoleID
	if roleID == "" {
		roleID = os.Getenv("VAULT_ROLE_ID")
	}
	secretID := cfg.SecretID
	if secretID == "" {
		secretID = os.Getenv("VAULT_SECRET_ID")
	}
	if roleID == "" || secretID == "" {
		return fmt.Errorf("AppRole credentials missing (VAULT_ROLE_ID / VAULT_SECRET_ID)")
	}

	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("AppRole login request failed: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("AppRole login returned no auth data")
	}

	client.SetToken(secret.Auth.ClientToken)
	return nil
}

// GetSecret retrieves a secret from Vault.
// path is relative to the configured SecretPath.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}

	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests secrets under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}

	// KV v1 returns data directly
	return secret.Data, nil
}

// GetSecretString retrieves a single string value from Vault
func (vc *VaultClient) GetSecretString(ctx context.Context, path string, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}

	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key '%s' not found or not a string at path: %s", key, path)
	}

	return value, nil
}

// LoadSecretsFromVault loads secrets from Vault into the configuration.
// Individual failures are logged and skipped; environment variables remain
// the fallback for anything Vault does not provide.
func LoadSecretsFromVault(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Info().Msg("Vault integration disabled - using environment variables for secrets")
		return nil
	}

	vaultClient, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	if err := loadDatabaseSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load database secrets from Vault")
	}

	if err := loadRedisSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load Redis secrets from Vault")
	}

	if err := loadExchangeSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load exchange secrets from Vault")
	}

	if err := loadTelegramSecrets(ctx, vaultClient, cfg); err != nil {
		log.Warn().Err(err).Msg("Failed to load Telegram secrets from Vault")
	}

	log.Info().Msg("Secrets loaded from Vault")
	return nil
}

func loadDatabaseSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	secrets, err := vc.GetSecret(ctx, "database")
	if err != nil {
		return err
	}

	if password, ok := secrets["password"].(string); ok && password != "" {
		cfg.Database.Password = password
	}
	if user, ok := secrets["user"].(string); ok && user != "" {
		cfg.Database.User = user
	}

	return nil
}

func loadRedisSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	if !cfg.Redis.Enabled {
		return nil
	}

	secrets, err := vc.GetSecret(ctx, "redis")
	if err != nil {
		return err
	}

	if password, ok := secrets["password"].(string); ok && password != "" {
		cfg.Redis.Password = password
	}

	return nil
}

func loadExchangeSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	path := fmt.Sprintf("exchanges/%s", cfg.Exchange.Name)
	secrets, err := vc.GetSecret(ctx, path)
	if err != nil {
		return err
	}

	if apiKey, ok := secrets["api_key"].(string); ok && apiKey != "" {
		cfg.Exchange.APIKey = apiKey
	}
	if secretKey, ok := secrets["secret_key"].(string); ok && secretKey != "" {
		cfg.Exchange.SecretKey = secretKey
	}

	return nil
}

func loadTelegramSecrets(ctx context.Context, vc *VaultClient, cfg *Config) error {
	if !cfg.Telegram.Enabled {
		return nil
	}

	secrets, err := vc.GetSecret(ctx, "telegram")
	if err != nil {
		return err
	}

	if token, ok := secrets["bot_token"].(string); ok && token != "" {
		cfg.Telegram.BotToken = token
	}

	return nil
}
