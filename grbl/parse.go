package grbl

import (
	"errors"
	"strconv"
	"strings"

	"github.com/fluidcnc/autolevel/coord"
	"github.com/fluidcnc/autolevel/probe"
)

func parseCoords(data string) (p coord.Point, err error) {
	parts := strings.Split(data, ",")
	if len(parts) != 3 {
		return p, errors.New("invalid number of elements")
	}
	p.X, err = strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return p, err
	}
	p.Y, err = strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return p, err
	}
	p.Z, err = strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return p, err
	}
	return p, nil
}

// parseProbe handles `[PRB:x,y,z:n]` push messages.
func parseProbe(data string) (*probe.Result, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "[")
	data = strings.TrimSuffix(data, "]")
	parts := strings.Split(data, ":")
	if len(parts) < 3 || parts[0] != "PRB" {
		return nil, errors.New("unknown push message: " + data)
	}

	var res probe.Result
	res.Contact = parts[2] == "1"
	var err error
	res.Point, err = parseCoords(parts[1])
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// parseStatus handles `<State|MPos:...|Pn:...|WCO:...>` reports. Fields
// the controller omits (WCO is only sent periodically) carry over from
// the previous report; pin indicators reset every report.
func parseStatus(stat probe.Status, data string) (*probe.Status, error) {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")
	parts := strings.Split(data, "|")
	stat.State = parts[0]
	stat.LimitX, stat.LimitY, stat.LimitZ = false, false, false

	var err error
	for _, s := range parts[1:] {
		sParts := strings.SplitN(s, ":", 2)
		if len(sParts) != 2 {
			continue
		}
		switch sParts[0] {
		case "MPos":
			stat.MPos, err = parseCoords(sParts[1])
		case "WCO":
			stat.WCO, err = parseCoords(sParts[1])
		case "Pn":
			stat.LimitX = strings.Contains(sParts[1], "X")
			stat.LimitY = strings.Contains(sParts[1], "Y")
			stat.LimitZ = strings.Contains(sParts[1], "Z")
		}
		if err != nil {
			return nil, err
		}
	}
	return &stat, nil
}
