package main

import (
	"context"
	"flag"
	"os"
	"time"

	apilog "github.com/compose-network/pdp-relay/log"
)

// Simulates the uploader against a running relay.
func main() {
	var (
		transport  string
		addr       string
		natsURL    string
		subject    string
		file       string
		fileID     string
		proofSetID string
		stage      string
		delay      time.Duration
		timeout    time.Duration
		pretty     bool
		logLevel   string
	)
	flag.StringVar(&transport, "transport", "zmq", "Relay transport (zmq, nats)")
	flag.StringVar(&addr, "addr", "tcp://127.0.0.1:5555", "Relay ZeroMQ endpoint")
	flag.StringVar(&natsURL, "nats-url", "nats://127.0.0.1:4222", "NATS server URL")
	flag.StringVar(&subject, "subject", "pdp.relay.stage", "NATS request subject")
	flag.StringVar(&file, "file", "photo.jpg", "File name shown on the device")
	flag.StringVar(&fileID, "file-id", "baga6ea4seaq:bafkzcibcd4bdomn3", "Uploader file id (piece:root)")
	flag.StringVar(&proofSetID, "proofset-id", "51", "Proof set id sent with ROOTS_ADDED")
	flag.StringVar(&stage, "stage", "", "Send a single stage (UPLOADED or ROOTS_ADDED) instead of both")
	flag.DurationVar(&delay, "delay", 3*time.Second, "Delay between UPLOADED and ROOTS_ADDED")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")
	flag.BoolVar(&pretty, "log-pretty", true, "Pretty console logs")
	flag.StringVar(&logLevel, "log-level", "debug", "Log level (trace,debug,info,...)")
	flag.Parse()

	logger := apilog.New(logLevel, pretty)
	log := logger.Module("test-app")

	if err := run(log, transport, addr, natsURL, subject, stage, file, fileID, proofSetID, delay, timeout); err != nil {
		log.Error().Err(err).Str("transport", transport).Msg("stage change failed")
		os.Exit(1)
	}

	log.Info().Msg("Test completed")
}

func run(
	log *apilog.Logger,
	transport, addr, natsURL, subject, stage, file, fileID, proofSetID string,
	delay, timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var (
		sender Sender
		err    error
	)
	switch transport {
	case "nats":
		sender, err = newNATSSender(natsURL, subject)
	default:
		sender, err = newZMQSender(ctx, addr)
	}
	if err != nil {
		return err
	}
	defer sender.Close()

	producer := NewProducer(sender, log.Logger)

	switch stage {
	case "":
		err = producer.Walk(ctx, file, fileID, proofSetID, delay)
	case "ROOTS_ADDED":
		err = producer.Announce(ctx, StageChange{
			Stage: stage,
			Data:  StageData{File: file, FileID: fileID, ProofSetID: &proofSetID},
		})
	default:
		err = producer.Announce(ctx, StageChange{Stage: stage, Data: StageData{File: file, FileID: fileID}})
	}
	return err
}
