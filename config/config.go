package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "BMCDHCP"

type ConfigHandler interface {
	ReadConfig() (Config, error)
	WriteConfig(config *Config) error
	GetDefaultConfig() *Config
}

type JSONConfigManager struct {
	configPath string
}

type Server struct {
	ListenAddr      string        `json:"listenAddr"`
	Port            int           `json:"port"`
	ClientPort      int           `json:"clientPort"`
	ListenInterface string        `json:"listenInterface"`
	ServerIP        string        `json:"serverIP"`
	Transport       string        `json:"transport"`
	LogLevel        string        `json:"logLevel"`
	LogFormat       string        `json:"logFormat"`
	ReadBufferSize  int           `json:"readBufferSize"`
	LookupTimeout   time.Duration `json:"lookupTimeout"`
}

// DHCP holds the lease parameters used when a directory entry leaves them unset.
type DHCP struct {
	SubnetMask    string   `json:"subnetMask"`
	Router        string   `json:"router"`
	BroadcastAddr string   `json:"broadcastAddr"`
	DNSServer     []string `json:"dnsServer"`
	NTPServer     []string `json:"ntpServer"`
	DomainName    string   `json:"domainName"`
	LeaseLen      int      `json:"leaseLen"`
	RenewalLen    int      `json:"renewalLen"`
	TFTPServer    string   `json:"tftpServer"`
	BootFile      string   `json:"bootFile"`
}

type Reservation struct {
	MAC        string            `json:"mac"`
	IP         string            `json:"ip"`
	Hostname   string            `json:"hostname"`
	SubnetMask string            `json:"subnetMask"`
	Router     string            `json:"router"`
	LeaseLen   int               `json:"leaseLen"`
	Options    map[string]string `json:"options"`
}

type Directory struct {
	Backend      string        `json:"backend"`
	Path         string        `json:"path"`
	Reservations []Reservation `json:"reservations"`
	ARPProbe     bool          `json:"arpProbe"`
	ARPTimeout   time.Duration `json:"arpTimeout"`
}

type Offers struct {
	TTL           time.Duration `json:"ttl"`
	MaxEntries    int           `json:"maxEntries"`
	CleanInterval time.Duration `json:"cleanInterval"`
}

type Metrics struct {
	Listen string `json:"listen"`
}

// OptionDefinition registers a site or vendor option. Keys of
// Config.Options are decimal option codes.
type OptionDefinition struct {
	Name  string `json:"name"`
	Codec string `json:"codec"`
}

type Config struct {
	Server    Server                      `json:"server"`
	DHCP      DHCP                        `json:"dhcp"`
	Directory Directory                   `json:"directory"`
	Offers    Offers                      `json:"offers"`
	Metrics   Metrics                     `json:"metrics"`
	Options   map[string]OptionDefinition `json:"options"`
}

// NewJSONConfigManager reads config.json from the directory configPath, or
// configPath itself when it names a .json file.
func NewJSONConfigManager(configPath string) ConfigHandler {
	return &JSONConfigManager{
		configPath: configPath,
	}
}

func (j *JSONConfigManager) isFile() bool {
	return strings.HasSuffix(j.configPath, ".json")
}

func (j *JSONConfigManager) ReadConfig() (Config, error) {
	v := viper.New()
	setDefaults(v, j.GetDefaultConfig())

	if j.isFile() {
		v.SetConfigFile(j.configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(j.configPath)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
		slog.Warn("No config file found, using defaults", "path", j.configPath)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error occured while unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

func (j *JSONConfigManager) WriteConfig(config *Config) error {
	jsonData, err := json.MarshalIndent(config, "", "    ")
	if err != nil {
		return fmt.Errorf("error marshaling config to JSON: %w", err)
	}

	writePath := j.configPath
	if !j.isFile() {
		writePath = filepath.Join(j.configPath, "config.json")
	}
	err = os.WriteFile(writePath, jsonData, 0644)
	if err != nil {
		return fmt.Errorf("error writing marshalled JSON to config file: %w", err)
	}

	return nil
}

func (j *JSONConfigManager) GetDefaultConfig() *Config {
	return &Config{
		Server: Server{
			ListenAddr:      "0.0.0.0",
			Port:            67,
			ClientPort:      68,
			ListenInterface: "",
			Transport:       "udp",
			LogLevel:        "info",
			LogFormat:       "text",
			ReadBufferSize:  4096,
		},
		DHCP: DHCP{
			SubnetMask: "255.255.255.0",
			DNSServer:  []string{},
			NTPServer:  []string{},
			LeaseLen:   86400,
		},
		Directory: Directory{
			Backend:    "static",
			ARPTimeout: 500 * time.Millisecond,
		},
		Offers: Offers{
			CleanInterval: time.Minute,
		},
		Options: map[string]OptionDefinition{},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.listenAddr", d.Server.ListenAddr)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.clientPort", d.Server.ClientPort)
	v.SetDefault("server.listenInterface", d.Server.ListenInterface)
	v.SetDefault("server.serverIP", d.Server.ServerIP)
	v.SetDefault("server.transport", d.Server.Transport)
	v.SetDefault("server.logLevel", d.Server.LogLevel)
	v.SetDefault("server.logFormat", d.Server.LogFormat)
	v.SetDefault("server.readBufferSize", d.Server.ReadBufferSize)
	v.SetDefault("server.lookupTimeout", d.Server.LookupTimeout)

	v.SetDefault("dhcp.subnetMask", d.DHCP.SubnetMask)
	v.SetDefault("dhcp.router", d.DHCP.Router)
	v.SetDefault("dhcp.broadcastAddr", d.DHCP.BroadcastAddr)
	v.SetDefault("dhcp.dnsServer", d.DHCP.DNSServer)
	v.SetDefault("dhcp.ntpServer", d.DHCP.NTPServer)
	v.SetDefault("dhcp.domainName", d.DHCP.DomainName)
	v.SetDefault("dhcp.leaseLen", d.DHCP.LeaseLen)
	v.SetDefault("dhcp.renewalLen", d.DHCP.RenewalLen)
	v.SetDefault("dhcp.tftpServer", d.DHCP.TFTPServer)
	v.SetDefault("dhcp.bootFile", d.DHCP.BootFile)

	v.SetDefault("directory.backend", d.Directory.Backend)
	v.SetDefault("directory.path", d.Directory.Path)
	v.SetDefault("directory.arpProbe", d.Directory.ARPProbe)
	v.SetDefault("directory.arpTimeout", d.Directory.ARPTimeout)

	v.SetDefault("offers.ttl", d.Offers.TTL)
	v.SetDefault("offers.maxEntries", d.Offers.MaxEntries)
	v.SetDefault("offers.cleanInterval", d.Offers.CleanInterval)

	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// ServerIPOverride returns the configured server identifier, or nil when it
// should be taken from the listen interface.
func (c *Config) ServerIPOverride() net.IP {
	if c.Server.ServerIP == "" {
		return nil
	}
	return net.ParseIP(c.Server.ServerIP).To4()
}
