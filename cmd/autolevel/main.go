package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/fluidcnc/autolevel/grbl"
	"github.com/fluidcnc/autolevel/mapstore"
	"github.com/fluidcnc/autolevel/probe"
	"github.com/fluidcnc/autolevel/scan"
)

func main() {
	log.SetFlags(log.Lshortfile)

	port := flag.String("port", "/dev/ttyUSB0", "Serial port of the grbl controller.")
	baud := flag.Int("baud", 115200, "Serial baud rate.")
	wsURL := flag.String("ws", "", "Websocket URL of a grbl bridge; overrides -port.")
	addr := flag.String("addr", ":9092", "Address to bind the HTTP server to.")
	dbPath := flag.String("db", "./scans.db", "Path of the scan archive database.")

	travelZ := flag.Float64("travel-z", 5, "Travel height between probe points (work mm).")
	minZ := flag.Float64("min-z", -10, "Probe floor; reaching it without contact is a miss (work mm).")
	feedRate := flag.Float64("feed", 100, "Probe plunge feed rate (mm/min).")
	retract := flag.Float64("retract", 1, "Retract distance above each measured contact (mm).")
	safeZ := flag.Float64("safe-z", -1, "Recovery retract height (machine mm).")
	flag.Parse()

	var c *grbl.Client
	var err error
	if *wsURL != "" {
		c, err = grbl.DialWS(*wsURL)
	} else {
		c, err = grbl.Dial(*port, *baud)
	}
	if err != nil {
		log.Fatalf("connect to controller: %+v", err)
	}
	defer c.Close()

	store, err := mapstore.Open(*dbPath)
	if err != nil {
		log.Fatalf("open scan archive: %+v", err)
	}
	defer store.Close()

	sess := scan.New(c)

	api := newAPI(sess, store, c, probe.Options{
		TravelZ:  *travelZ,
		MinZ:     *minZ,
		FeedRate: *feedRate,
		Retract:  *retract,
		SafeZ:    *safeZ,
	})

	err = http.ListenAndServe(*addr, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "*")
		log.Printf("%s %s - %s", req.Method, req.URL.Path, req.RemoteAddr)
		api.ServeHTTP(w, req)
	}))
	if err != nil {
		log.Fatal(err)
	}
}
