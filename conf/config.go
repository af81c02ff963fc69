package conf

import (
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/sagernet/sing-socket/common/datagram"
	E "github.com/sagernet/sing-socket/common/exceptions"
	"github.com/sagernet/sing-socket/common/stream"
)

type Config struct {
	Log      LogConfig      `json:"log,omitempty"`
	Stream   StreamConfig   `json:"stream,omitempty"`
	Datagram DatagramConfig `json:"datagram,omitempty"`
}

type LogConfig struct {
	Level string `json:"level,omitempty"`
}

type StreamConfig struct {
	ChunkSize   int      `json:"chunk_size,omitempty"`
	ReadTimeout Duration `json:"read_timeout,omitempty"`
	RateLimit   float64  `json:"rate_limit,omitempty"`
}

type DatagramConfig struct {
	MaxPacketSize int `json:"max_packet_size,omitempty"`
}

// Duration accepts either a Go duration string or a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(content []byte) error {
	var value string
	err := json.Unmarshal(content, &value)
	if err == nil {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(duration)
		return nil
	}
	seconds, err := strconv.ParseFloat(string(content), 64)
	if err != nil {
		return E.New("invalid duration: ", string(content))
	}
	*d = Duration(seconds * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, E.Cause(err, "read config file")
	}
	config := new(Config)
	err = json.Unmarshal(content, config)
	if err != nil {
		return nil, E.Cause(err, "decode config file")
	}
	if config.Stream.ChunkSize < 0 {
		return nil, E.New("negative stream chunk size")
	}
	if config.Datagram.MaxPacketSize < 0 {
		return nil, E.New("negative datagram packet size")
	}
	return config, nil
}

func (c *Config) StreamOptions() []stream.Option {
	var options []stream.Option
	if c.Stream.ChunkSize > 0 {
		options = append(options, stream.WithChunkSize(c.Stream.ChunkSize))
	}
	return options
}

func (c *Config) DatagramOptions() []datagram.Option {
	var options []datagram.Option
	if c.Datagram.MaxPacketSize > 0 {
		options = append(options, datagram.WithMaxPacketSize(c.Datagram.MaxPacketSize))
	}
	return options
}
