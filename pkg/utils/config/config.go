package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/junbin-yang/casan-go/pkg/casan/l2"
	log "github.com/junbin-yang/casan-go/pkg/utils/logger"
)

var (
	APPNAME    string = "casan"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

// 网络类型
const (
	NET_ETHERNET = "ethernet"
	NET_802154   = "802.15.4"
	NET_UDP      = "udp"

	SUBTYPE_XBEE = "xbee"
)

var ErrInvalid = errors.New("invalid configuration")

type Logger struct {
	Dir      string `yaml:"dir"`
	Level    string `yaml:"level"`
	Rotate   bool   `yaml:"rotate"`
	RotateBy string `yaml:"rotateby,omitempty"` // time 或 size
}

// Timers 单位为秒
type Timers struct {
	FirstHello int `yaml:"firsthello"`
	Hello      int `yaml:"hello"`
	SlaveTTL   int `yaml:"slavettl"`
	CacheClean int `yaml:"cacheclean"`
}

type Coap struct {
	AckTimeout    int `yaml:"acktimeout"` // 毫秒
	MaxRetransmit int `yaml:"maxretransmit"`
}

type Namespaces struct {
	Admin     string `yaml:"admin"`
	Casan     string `yaml:"casan"`
	WellKnown string `yaml:"wellknown"`
}

type HTTP struct {
	Listen string `yaml:"listen"`
}

// Network 一个链路。不同类型使用不同的字段
type Network struct {
	Name    string `yaml:"name,omitempty"`
	Type    string `yaml:"type"`
	Subtype string `yaml:"subtype,omitempty"`
	Iface   string `yaml:"iface,omitempty"`
	MTU     int    `yaml:"mtu,omitempty"`

	// ethernet
	Ethertype int `yaml:"ethertype,omitempty"`

	// 802.15.4
	Addr     string   `yaml:"addr,omitempty"`
	PanID    string   `yaml:"panid,omitempty"`
	Channel  int      `yaml:"channel,omitempty"`
	MinFrame int      `yaml:"minframe,omitempty"`
	MaxFrame int      `yaml:"maxframe,omitempty"`
	AT       []string `yaml:"at,omitempty"`

	// udp
	Listen string `yaml:"listen,omitempty"`
	Group  string `yaml:"group,omitempty"`
}

type Slave struct {
	ID  int64 `yaml:"id"`
	TTL int   `yaml:"ttl"`
	MTU int   `yaml:"mtu"`
}

type Config struct {
	Logger     Logger     `yaml:"logger"`
	Timers     Timers     `yaml:"timers"`
	Coap       Coap       `yaml:"coap"`
	Namespaces Namespaces `yaml:"namespaces"`
	HTTP       []HTTP     `yaml:"http"`
	Networks   []Network  `yaml:"networks"`
	Slaves     []Slave    `yaml:"slaves"`

	path string
}

// DefaultPath 程序所在目录下的casan.yml，不存在时使用/etc/casan.yml
func DefaultPath() string {
	if ex, err := os.Executable(); err == nil {
		cfile := filepath.Join(filepath.Dir(ex), APPNAME+".yml")
		if _, err := os.Stat(cfile); err == nil {
			return cfile
		}
	}
	return "/etc/" + APPNAME + ".yml"
}

// Load 读取并校验配置文件，path为空时使用默认位置
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	conf, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	conf.path = path
	log.Infof("[CONFIG] loaded %s: %d networks, %d slaves", path, len(conf.Networks), len(conf.Slaves))
	return conf, nil
}

// Parse 解析YAML，填充默认值后校验
func Parse(data []byte) (*Config, error) {
	conf := new(Config)
	if err := yaml.UnmarshalStrict(data, conf); err != nil {
		return nil, errors.Wrap(err, "yaml")
	}
	conf.setDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) Path() string { return c.path }

func (c *Config) setDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Timers.FirstHello == 0 {
		c.Timers.FirstHello = 3
	}
	if c.Timers.Hello == 0 {
		c.Timers.Hello = 10
	}
	if c.Timers.SlaveTTL == 0 {
		c.Timers.SlaveTTL = 3600
	}
	if c.Timers.CacheClean == 0 {
		c.Timers.CacheClean = 5
	}
	if c.Coap.AckTimeout == 0 {
		c.Coap.AckTimeout = 2000
	}
	if c.Coap.MaxRetransmit == 0 {
		c.Coap.MaxRetransmit = 4
	}
	if c.Namespaces.Admin == "" {
		c.Namespaces.Admin = "/admin"
	}
	if c.Namespaces.Casan == "" {
		c.Namespaces.Casan = "/casan"
	}
	if c.Namespaces.WellKnown == "" {
		c.Namespaces.WellKnown = "/.well-known/casan"
	}
	if len(c.HTTP) == 0 {
		c.HTTP = []HTTP{{Listen: ":8000"}}
	}
	for i := range c.Networks {
		n := &c.Networks[i]
		switch n.Type {
		case NET_ETHERNET:
			if n.Ethertype == 0 {
				n.Ethertype = l2.ETH_TYPE_CASAN
			}
		case NET_802154:
			if n.Subtype == "" {
				n.Subtype = SUBTYPE_XBEE
			}
			if n.MinFrame == 0 {
				n.MinFrame = l2.XBEE_MIN_FRAME_SIZE
			}
			if n.MaxFrame == 0 {
				n.MaxFrame = l2.XBEE_MAX_FRAME_SIZE
			}
		case NET_UDP:
			if n.Listen == "" {
				n.Listen = ":5683"
			}
		}
		if n.Name == "" {
			n.Name = fmt.Sprintf("%s%d", n.Type, i)
		}
	}
	for i := range c.Slaves {
		if c.Slaves[i].TTL == 0 {
			c.Slaves[i].TTL = c.Timers.SlaveTTL
		}
	}
}

func invalid(section, format string, args ...interface{}) error {
	return errors.Wrapf(ErrInvalid, "%s: %s", section, fmt.Sprintf(format, args...))
}

// Validate 检查各节的取值，错误信息带出错的节名
func (c *Config) Validate() error {
	switch c.Logger.Level {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logger", "unknown level %q", c.Logger.Level)
	}
	switch c.Logger.RotateBy {
	case "", "time", "size":
	default:
		return invalid("logger", "rotateby %q must be time or size", c.Logger.RotateBy)
	}
	if c.Timers.FirstHello < 0 || c.Timers.Hello < 0 || c.Timers.SlaveTTL <= 0 || c.Timers.CacheClean <= 0 {
		return invalid("timers", "negative or zero value")
	}
	if c.Coap.AckTimeout <= 0 || c.Coap.MaxRetransmit <= 0 || c.Coap.MaxRetransmit > 16 {
		return invalid("coap", "acktimeout %d / maxretransmit %d out of range", c.Coap.AckTimeout, c.Coap.MaxRetransmit)
	}
	for i, h := range c.HTTP {
		if h.Listen == "" {
			return invalid(fmt.Sprintf("http[%d]", i), "empty listen address")
		}
	}
	if len(c.Networks) == 0 {
		return invalid("networks", "no network configured")
	}
	names := make(map[string]bool)
	for i := range c.Networks {
		sec := fmt.Sprintf("networks[%d]", i)
		if err := c.Networks[i].validate(sec); err != nil {
			return err
		}
		if names[c.Networks[i].Name] {
			return invalid(sec, "duplicate name %q", c.Networks[i].Name)
		}
		names[c.Networks[i].Name] = true
	}
	ids := make(map[int64]bool)
	for i, s := range c.Slaves {
		sec := fmt.Sprintf("slaves[%d]", i)
		if s.ID <= 0 {
			return invalid(sec, "slave id must be positive")
		}
		if ids[s.ID] {
			return invalid(sec, "duplicate slave id %d", s.ID)
		}
		ids[s.ID] = true
		if s.TTL <= 0 || s.MTU < 0 {
			return invalid(sec, "ttl %d / mtu %d out of range", s.TTL, s.MTU)
		}
	}
	return nil
}

func (n *Network) validate(sec string) error {
	if n.MTU < 0 {
		return invalid(sec, "negative mtu")
	}
	switch n.Type {
	case NET_ETHERNET:
		if n.Iface == "" {
			return invalid(sec, "ethernet needs an iface")
		}
		if n.Ethertype <= 0 || n.Ethertype > 0xffff {
			return invalid(sec, "ethertype %#x out of range", n.Ethertype)
		}
	case NET_802154:
		if n.Subtype != SUBTYPE_XBEE {
			return invalid(sec, "unsupported 802.15.4 subtype %q", n.Subtype)
		}
		if n.Iface == "" {
			return invalid(sec, "802.15.4 needs a serial device in iface")
		}
		if _, err := l2.ParseXBeeAddr(n.Addr); err != nil {
			return invalid(sec, "addr %q: %v", n.Addr, err)
		}
		if _, err := l2.ParseXBeeAddr(n.PanID); err != nil {
			return invalid(sec, "panid %q: %v", n.PanID, err)
		}
		if n.Channel < l2.XBEE_MIN_CHANNEL || n.Channel > l2.XBEE_MAX_CHANNEL {
			return invalid(sec, "channel %d out of range %d..%d", n.Channel, l2.XBEE_MIN_CHANNEL, l2.XBEE_MAX_CHANNEL)
		}
		if n.MinFrame < 3 || n.MaxFrame < n.MinFrame {
			return invalid(sec, "frame sizes %d..%d", n.MinFrame, n.MaxFrame)
		}
	case NET_UDP:
		if n.Group == "" {
			return invalid(sec, "udp needs a multicast group")
		}
		if _, err := l2.ParseUDPAddr(n.Group); err != nil {
			return invalid(sec, "group %q: %v", n.Group, err)
		}
	default:
		return invalid(sec, "unknown network type %q", n.Type)
	}
	return nil
}

// String 以YAML形式输出，用于管理页面
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return err.Error()
	}
	return string(out)
}

func (t Timers) FirstHelloDuration() time.Duration { return time.Duration(t.FirstHello) * time.Second }
func (t Timers) HelloDuration() time.Duration      { return time.Duration(t.Hello) * time.Second }
func (t Timers) CacheCleanDuration() time.Duration { return time.Duration(t.CacheClean) * time.Second }
func (c Coap) AckTimeoutDuration() time.Duration   { return time.Duration(c.AckTimeout) * time.Millisecond }
func (s Slave) TTLDuration() time.Duration         { return time.Duration(s.TTL) * time.Second }

// SetupLogger 按logger节设置日志输出和级别
func (c *Config) SetupLogger() {
	if c.Logger.Rotate {
		dir := c.Logger.Dir
		if dir == "" {
			if ex, err := os.Executable(); err == nil {
				dir = filepath.Dir(ex)
			}
		}
		file := filepath.Join(dir, APPNAME+".log")
		out := log.NewProductionRotateByTime(file)
		if c.Logger.RotateBy == "size" {
			out = log.NewProductionRotateBySize(file)
		}
		log.ReplaceDefault(log.New(out, log.InfoLevel))
	}
	log.SetLevel(log.ParseLevel(c.Logger.Level))
}
