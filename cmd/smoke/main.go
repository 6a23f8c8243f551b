package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/RaghavMadan07/Agri/internal/client"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

// smallest valid JPEG: SOI, APP0 marker stub, EOI
var sampleImage = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xff, 0xd9}

func main() {
	obs.InitLogging(obs.LogConfig{Level: "info", Format: "console", Output: os.Stderr})
	log := obs.Logger()

	addr := os.Getenv("AGRI_API_URL")
	if addr == "" {
		addr = "http://localhost:3000"
	}
	var (
		base    = flag.String("url", addr, "ingestion API base URL")
		wait    = flag.Duration("wait", 2*time.Minute, "how long to wait for a terminal status")
		noWait  = flag.Bool("no-wait", false, "stop once the submission is accepted")
		stage   = flag.String("stage", "flowering", "growth stage to submit")
		imgPath = flag.String("image", "", "image to upload (defaults to a tiny built-in JPEG)")
	)
	flag.Parse()

	c, err := client.New(*base)
	if err != nil {
		log.Fatal().Err(err).Msg("client")
	}

	img := sampleImage
	name := "smoke.jpg"
	if *imgPath != "" {
		img, err = os.ReadFile(*imgPath)
		if err != nil {
			log.Fatal().Err(err).Msg("read image")
		}
		name = *imgPath
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user := fmt.Sprintf("smoke-%d", rand.Int64())
	if _, err := c.Register(ctx, user, "smoke-password"); err != nil {
		log.Fatal().Err(err).Msg("register")
	}
	if _, err := c.Login(ctx, user, "smoke-password"); err != nil {
		log.Fatal().Err(err).Msg("login")
	}

	rec, err := c.Submit(ctx, name, bytes.NewReader(img), client.Metadata{
		Latitude:    rand.Float64()*180 - 90,
		Longitude:   rand.Float64()*360 - 180,
		GrowthStage: *stage,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("submit")
	}
	log.Info().Str("submission_id", rec.SubmissionID).Msg("accepted")
	if *noWait {
		return
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), *wait)
	defer cancelWait()
	view, err := c.Wait(waitCtx, rec.SubmissionID, time.Second)
	if err != nil {
		log.Fatal().Err(err).Str("last_status", string(view.Status)).Msg("wait")
	}

	switch view.Status {
	case submission.StatusCompleted:
		if len(view.Analysis) == 0 || len(view.Error) != 0 {
			log.Fatal().Msg("COMPLETED view must carry analysis only")
		}
	case submission.StatusFailed:
		if len(view.Error) == 0 || len(view.Analysis) != 0 {
			log.Fatal().Msg("FAILED view must carry error only")
		}
	case submission.StatusReceived, submission.StatusProcessing:
		log.Fatal().Str("status", string(view.Status)).Msg("not terminal")
	}
	fmt.Printf("smoke test passed: submission=%s status=%s\n", rec.SubmissionID, view.Status)
}
