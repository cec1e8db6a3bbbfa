package merge

import (
	logger "log"
	"time"

	"github.com/opentransit/rtbridge/business/data/rt"
)

// Adjust fills the gaps of a freshly merged trip update and enforces the stop
// time invariants, mutating the trip update in place:
//
//   - every stop's stored order must equal its position in the sequence
//   - missing arrivals borrow from the stop's departure, then from the
//     previous stop's departure
//   - missing departures copy the arrival, delays follow the copied event
//   - an arrival earlier than the previous departure is pushed forward by the
//     excess, delay included
//   - a departure earlier than its arrival is pushed forward the same way
//
// Returns false when the trip update cannot be made consistent, the caller
// then drops it without keeping partial state.
func Adjust(log *logger.Logger, tripUpdate *rt.TripUpdate) bool {
	var previous *rt.StopTimeUpdate
	for index, st := range tripUpdate.StopTimeUpdates {
		if st.Order != index {
			log.Printf("trip update on %s at %s rejected: order problem [stop order (%d) != sequence index (%d)]",
				tripUpdate.VJ.TripID, tripUpdate.VJ.StartTimestamp.Format(time.RFC3339), st.Order, index)
			return false
		}

		if st.Arrival == nil {
			st.Arrival = copyTime(st.Departure)
			if st.Arrival == nil && previous != nil {
				st.Arrival = copyTime(previous.Departure)
			}
			if st.Arrival == nil {
				log.Printf("trip update on %s at %s rejected: stop %s missing arrival time",
					tripUpdate.VJ.TripID, tripUpdate.VJ.StartTimestamp.Format(time.RFC3339), st.StopID)
				return false
			}
			if st.ArrivalDelay == 0 && st.DepartureDelay != 0 {
				st.ArrivalDelay = st.DepartureDelay
			}
		}

		if st.Departure == nil {
			st.Departure = copyTime(st.Arrival)
			if st.DepartureDelay == 0 && st.ArrivalDelay != 0 {
				st.DepartureDelay = st.ArrivalDelay
			}
		}

		if previous != nil && previous.Departure.After(*st.Arrival) {
			excess := previous.Departure.Sub(*st.Arrival)
			shifted := st.Arrival.Add(excess)
			st.Arrival = &shifted
			st.ArrivalDelay += excess
		}

		if st.Arrival.After(*st.Departure) {
			excess := st.Arrival.Sub(*st.Departure)
			shifted := st.Departure.Add(excess)
			st.Departure = &shifted
			st.DepartureDelay += excess
		}

		previous = st
	}
	return true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
