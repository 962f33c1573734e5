package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sandrolain/uplink-bridge/src/payload"
	toolutil "github.com/sandrolain/uplink-bridge/testers/tools/toolutil"
	"github.com/spf13/cobra"
)

func main() {
	const tcpPrefix = "tcp://"
	root := &cobra.Command{
		Use:   "uplinktool",
		Short: "Publish synthetic weather station uplinks",
		Long:  "Publishes TTN v2 style uplinks with random or fixed station payloads to an MQTT broker.",
	}

	var (
		broker   string
		appID    string
		devID    string
		stID     uint32
		raw      string
		interval string
		count    int
		username string
		password string
		qos      int
	)
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Publish periodic uplinks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.Contains(broker, "://") {
				broker = tcpPrefix + broker
			}
			opts := mqtt.NewClientOptions().AddBroker(broker)
			opts.SetClientID(fmt.Sprintf("uplinktool-%d", time.Now().UnixNano())).SetAutoReconnect(true)
			if username != "" {
				opts.SetUsername(username)
			}
			if password != "" {
				opts.SetPassword(password)
			}
			client := mqtt.NewClient(opts)
			if token := client.Connect(); token.Wait() && token.Error() != nil {
				return fmt.Errorf("MQTT connection error: %w", token.Error())
			}
			defer client.Disconnect(250)

			dur, err := time.ParseDuration(interval)
			if err != nil {
				return fmt.Errorf("invalid interval: %w", err)
			}

			var fixed []byte
			if raw != "" {
				if fixed, err = hex.DecodeString(raw); err != nil {
					return fmt.Errorf("invalid hex payload: %w", err)
				}
			}

			topic := fmt.Sprintf("%s/devices/%s/up", appID, devID)
			fmt.Printf("Connected to %s, topic: %s\n", broker, topic)

			publish := func(counter uint32) {
				buf := fixed
				if buf == nil {
					if buf, err = toolutil.RandomPayload(stID); err != nil {
						fmt.Fprintln(os.Stderr, err)
						return
					}
				}
				body, err := toolutil.BuildUplink(appID, devID, counter, buf)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					return
				}
				token := client.Publish(topic, byte(qos), false, body)
				token.Wait()
				if token.Error() != nil {
					fmt.Fprintf(os.Stderr, "Publish error: %v\n", token.Error())
					return
				}
				set, err := payload.Decode(buf)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Payload does not decode: %v\n", err)
					return
				}
				fmt.Printf("Uplink %d sent: humidity=%.0f temperature=%.1f windspeed=%.2f\n", counter, set.Humidity, set.Temperature, set.Windspeed)
			}

			ticker := time.NewTicker(dur)
			defer ticker.Stop()
			for counter := uint32(1); ; counter++ {
				publish(counter)
				if count > 0 && int(counter) >= count {
					return nil
				}
				<-ticker.C
			}
		},
	}
	sendCmd.Flags().StringVar(&broker, "broker", "tcp://localhost:1883", "MQTT broker URL (tcp://host:port)")
	sendCmd.Flags().StringVar(&appID, "app", "weather", "Application id used in the topic")
	sendCmd.Flags().StringVar(&devID, "device", "station-1", "Device id used in the topic and envelope")
	sendCmd.Flags().Uint32Var(&stID, "station-id", 1, "Station id embedded in random payloads")
	sendCmd.Flags().StringVar(&raw, "raw", "", "Fixed 8 byte payload in hex, random when empty")
	sendCmd.Flags().IntVar(&count, "count", 0, "Number of uplinks to send, 0 for unlimited")
	sendCmd.Flags().StringVar(&username, "username", "", "MQTT username")
	sendCmd.Flags().StringVar(&password, "password", "", "MQTT password")
	sendCmd.Flags().IntVar(&qos, "qos", 0, "MQTT QoS level (0,1,2)")
	toolutil.AddIntervalFlag(sendCmd, &interval, "5s")

	root.AddCommand(sendCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
