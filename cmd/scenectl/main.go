// Command scenectl sends scene change requests to a running viewer over
// MQTT or the HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/AaronLay10/SentientViewer/internal/control"
	"github.com/AaronLay10/SentientViewer/internal/mqtt"
)

const usage = `usage: scenectl [flags] <command> [args]

commands:
  change <scene_id>   request a scene change
  reset               abort the current transition and clear the queue (HTTP only)
  status              print the transition status (HTTP only)
  scenes              list catalog scenes (HTTP only)

flags:
`

type options struct {
	viewerID string
	mqttURL  string
	apiURL   string
	user     string
	pass     string
	bypass   bool
	timeout  time.Duration
}

func main() {
	var o options
	flag.StringVar(&o.viewerID, "viewer", "viewer-1", "target viewer id")
	flag.StringVar(&o.mqttURL, "mqtt", "", "send changes over MQTT to this broker instead of HTTP")
	flag.StringVar(&o.apiURL, "api", "http://127.0.0.1:8080", "viewer API base URL")
	flag.StringVar(&o.user, "user", os.Getenv("VIEWER_ADMIN_USER"), "basic auth user")
	flag.StringVar(&o.pass, "pass", os.Getenv("VIEWER_ADMIN_PASS"), "basic auth password")
	flag.BoolVar(&o.bypass, "bypass", false, "skip the warp animation")
	flag.DurationVar(&o.timeout, "timeout", 10*time.Second, "request timeout")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var err error
	switch args[0] {
	case "change":
		if len(args) != 2 {
			flag.Usage()
			os.Exit(2)
		}
		req := control.Request{SceneID: args[1], BypassAnimation: o.bypass}
		if o.mqttURL != "" {
			err = publishChange(o, req)
		} else {
			err = o.do(http.MethodPost, "/scene/change", req)
		}
	case "reset":
		err = o.do(http.MethodPost, "/scene/reset", nil)
	case "status":
		err = o.do(http.MethodGet, "/status", nil)
	case "scenes":
		err = o.do(http.MethodGet, "/scenes", nil)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", args[0]).Msg("request failed")
	}
}

func publishChange(o options, req control.Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}

	client := mqtt.NewClient(o.mqttURL, fmt.Sprintf("scenectl-%d", os.Getpid()), log.Logger)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Disconnect()

	topic := mqtt.SceneChangeTopic(o.viewerID)
	if err := client.Publish(topic, payload); err != nil {
		return err
	}
	log.Info().Str("topic", topic).Str("scene_id", req.SceneID).Msg("published")
	return nil
}

// do sends an API request and copies the response body to stdout.
func (o options) do(method, path string, body interface{}) error {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, o.apiURL+path, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if o.user != "" {
		req.SetBasicAuth(o.user, o.pass)
	}

	client := &http.Client{Timeout: o.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(os.Stdout, resp.Body); err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}
