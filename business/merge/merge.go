// Package merge reconciles incoming realtime trip updates against the base
// timetable and the realtime state already persisted for the journey.
package merge

import (
	logger "log"
	"time"

	"github.com/opentransit/rtbridge/business/data/rt"
	"github.com/opentransit/rtbridge/business/timetable"
)

// Merge combines three sources into the new authoritative state of a journey:
// the base timetable cached on the incoming update's vehicle journey, the trip
// update already in the db (possibly nil) and the incoming trip update.
//
// The result is old when it exists, incoming otherwise, mutated in place so
// that persistence captures it. Merge returns nil when the incoming update
// introduces no observable change, the caller then skips persistence and
// publication.
//
// newIsComplete declares that incoming carries the full stop sequence: the
// incoming stops drive the iteration (allowing added stops), and an unset
// message is an explicit clear rather than an absence of information.
//
// Base timetable changes are not propagated here, the journey's cached stop
// sequence is authoritative for this merge.
func Merge(log *logger.Logger, old *rt.TripUpdate, incoming *rt.TripUpdate, newIsComplete bool) *rt.TripUpdate {
	res := incoming
	if old != nil {
		res = old
	}

	tripChanged := adoptTripFields(res, old, incoming, newIsComplete)

	if res.Status == rt.TripStatusDelete {
		// trip cancellation drops the whole stop sequence
		res.StopTimeUpdates = nil
		return res
	}

	vj := incoming.VJ
	circulationDate := vj.CirculationDate()
	var lastBaseDeparture *timetable.TimeOfDay
	var lastDeparture *time.Time
	stopChanged := false
	var resStops []*rt.StopTimeUpdate

	for _, entry := range driverSequence(vj, incoming, newIsComplete) {
		if entry.base == nil {
			log.Printf("no stop point found for trip %s (order:%d)", vj.TripID, entry.order)
			continue
		}

		// compose base times of day with the circulation date, advancing it on
		// each past-midnight wrap. The date never moves backwards.
		var baseArrival, baseDeparture *time.Time
		if entry.base.Arrival != nil {
			if lastBaseDeparture != nil && lastBaseDeparture.After(*entry.base.Arrival) {
				circulationDate = circulationDate.AddDate(0, 0, 1)
			}
			at := entry.base.Arrival.At(circulationDate)
			baseArrival = &at
		}
		if entry.base.Departure != nil {
			if entry.base.Arrival != nil && entry.base.Arrival.After(*entry.base.Departure) {
				circulationDate = circulationDate.AddDate(0, 0, 1)
			}
			at := entry.base.Departure.At(circulationDate)
			baseDeparture = &at
		}

		stopID := entry.base.StopID
		newSt := incoming.FindStop(stopID, entry.order)
		var resSt *rt.StopTimeUpdate

		switch {
		case old != nil && newSt != nil:
			// the journey has recorded state and the feed mentions this stop:
			// adopt the candidate only when it differs from what is stored
			dbSt := old.FindStop(stopID, entry.order)
			candidate := makeStopTimeUpdate(baseArrival, baseDeparture, lastDeparture, newSt, stopID, entry.order)
			if dbSt == nil || !dbSt.IsEqual(candidate) {
				stopChanged = true
				resSt = candidate
			} else {
				resSt = dbSt
			}

		case old == nil && newSt != nil:
			stopChanged = true
			resSt = makeStopTimeUpdate(baseArrival, baseDeparture, lastDeparture, newSt, stopID, entry.order)

		case old != nil && newSt == nil:
			// recorded state, no mention in the feed: keep the stored stop
			// untouched apart from its order. No delay propagation here.
			dbSt := old.FindStop(stopID, entry.order)
			if dbSt != nil {
				dbSt.Order = entry.order
				resSt = dbSt
			} else {
				stopChanged = true
				resSt = baseOnlyStopTimeUpdate(baseArrival, baseDeparture, stopID, entry.order)
			}

		default:
			stopChanged = true
			resSt = baseOnlyStopTimeUpdate(baseArrival, baseDeparture, stopID, entry.order)
		}

		resStops = append(resStops, resSt)

		// a stop whose arrival is not served anymore does not constrain the
		// following stops
		if !resSt.ArrivalStatus.IsDeleted() {
			lastDeparture = resSt.Departure
			lastBaseDeparture = entry.base.Departure
		}
	}

	if !stopChanged && !tripChanged {
		return nil
	}
	res.StopTimeUpdates = resStops
	return res
}

// adoptTripFields copies the trip-level fields of incoming onto res and
// reports whether anything observable moved. Status always follows incoming,
// an update on a previously cancelled trip re-activates it. The contributor id
// follows the incoming feed. The message follows incoming when set, and also
// when unset on a complete feed (explicit clear). Classification fields are
// adopted whenever the incoming feed carries them.
func adoptTripFields(res *rt.TripUpdate, old *rt.TripUpdate, incoming *rt.TripUpdate, newIsComplete bool) bool {
	changed := old == nil

	if old != nil && old.Status != incoming.Status {
		changed = true
	}
	res.Status = incoming.Status

	if incoming.Message != nil || newIsComplete {
		if old != nil && !equalString(old.Message, incoming.Message) {
			changed = true
		}
		res.Message = incoming.Message
	}
	res.ContributorID = incoming.ContributorID

	if incoming.Effect != nil {
		if old != nil && (old.Effect == nil || *old.Effect != *incoming.Effect) {
			changed = true
		}
		res.Effect = incoming.Effect
	}
	if incoming.CompanyID != nil {
		if old != nil && !equalString(old.CompanyID, incoming.CompanyID) {
			changed = true
		}
		res.CompanyID = incoming.CompanyID
	}
	if incoming.PhysicalModeID != nil {
		if old != nil && !equalString(old.PhysicalModeID, incoming.PhysicalModeID) {
			changed = true
		}
		res.PhysicalModeID = incoming.PhysicalModeID
	}
	if incoming.Headsign != nil {
		if old != nil && !equalString(old.Headsign, incoming.Headsign) {
			changed = true
		}
		res.Headsign = incoming.Headsign
	}
	return changed
}

// driverEntry pairs an iteration order with the base stop it resolves to
type driverEntry struct {
	order int
	base  *timetable.StopTime
}

// driverSequence enumerates the stops the merge iterates over. A complete
// incoming feed drives the iteration itself, resolving each entry against the
// base sequence and synthesizing an ad-hoc base stop for additions. Otherwise
// the base timetable drives.
func driverSequence(vj *rt.VehicleJourney, incoming *rt.TripUpdate, newIsComplete bool) []driverEntry {
	if !newIsComplete {
		entries := make([]driverEntry, 0, len(vj.BaseStops))
		for order := range vj.BaseStops {
			entries = append(entries, driverEntry{order: order, base: &vj.BaseStops[order]})
		}
		return entries
	}

	entries := make([]driverEntry, 0, len(incoming.StopTimeUpdates))
	for order, st := range incoming.StopTimeUpdates {
		base := findBaseStop(vj.BaseStops, st.StopID)
		if base == nil && (st.ArrivalStatus.IsAdded() || st.DepartureStatus.IsAdded()) {
			base = &timetable.StopTime{
				StopID:    st.StopID,
				Arrival:   timeOfDayFrom(st.Arrival),
				Departure: timeOfDayFrom(st.Departure),
			}
		}
		entries = append(entries, driverEntry{order: order, base: base})
	}
	return entries
}

func findBaseStop(baseStops []timetable.StopTime, stopID string) *timetable.StopTime {
	for i := range baseStops {
		if baseStops[i].StopID == stopID {
			return &baseStops[i]
		}
	}
	return nil
}

func timeOfDayFrom(t *time.Time) *timetable.TimeOfDay {
	if t == nil {
		return nil
	}
	tod := timetable.TimeOfDayFrom(*t)
	return &tod
}

// makeStopTimeUpdate builds the candidate adjusted stop from the base times
// and the incoming entry, then applies the monotonicity rules against the last
// adjusted departure.
func makeStopTimeUpdate(baseArrival *time.Time, baseDeparture *time.Time, lastDeparture *time.Time,
	input *rt.StopTimeUpdate, stopID string, order int) *rt.StopTimeUpdate {

	departure, departureStatus, departureDelay := eventUpdateInfo(baseDeparture, input.DepartureStatus, input.DepartureDelay)
	arrival, arrivalStatus, arrivalDelay := eventUpdateInfo(baseArrival, input.ArrivalStatus, input.ArrivalDelay)

	if arrival == nil {
		if departure != nil {
			arrival = copyTime(departure)
		} else {
			arrival = copyTime(lastDeparture)
		}
	}
	if departure == nil {
		departure = copyTime(arrival)
	}

	if lastDeparture != nil && arrival != nil && lastDeparture.After(*arrival) {
		arrivalDelay += lastDeparture.Sub(*arrival)
		arrival = copyTime(lastDeparture)
	}
	if arrival != nil && departure != nil && arrival.After(*departure) {
		departureDelay += arrival.Sub(*departure)
		departure = copyTime(arrival)
	}

	st := rt.NewStopTimeUpdate(stopID, order)
	st.Arrival = arrival
	st.ArrivalDelay = arrivalDelay
	st.ArrivalStatus = arrivalStatus
	st.Departure = departure
	st.DepartureDelay = departureDelay
	st.DepartureStatus = departureStatus
	st.Message = input.Message
	return st
}

// eventUpdateInfo resolves one stop event from its base time and the incoming
// status:
//
//   - update: base time shifted by the delay
//   - delete/deleted_for_detour: the base time is carried through so the stop
//     event stays identifiable in the feed (lollipop lines), the status flags
//     it as not served
//   - add/added_for_detour: the base time, which for an added stop was
//     synthesized from the incoming entry and has been through the
//     past-midnight resolution
//   - anything else: the plain base time
func eventUpdateInfo(baseTime *time.Time, status rt.StopEventStatus, delay time.Duration) (*time.Time, rt.StopEventStatus, time.Duration) {
	switch {
	case status == rt.StopEventUpdate:
		if baseTime != nil {
			shifted := baseTime.Add(delay)
			return &shifted, status, delay
		}
		return nil, status, delay
	case status.IsDeleted():
		return copyTime(baseTime), status, 0
	case status.IsAdded():
		return copyTime(baseTime), status, 0
	default:
		return copyTime(baseTime), rt.StopEventNone, 0
	}
}

func baseOnlyStopTimeUpdate(baseArrival *time.Time, baseDeparture *time.Time, stopID string, order int) *rt.StopTimeUpdate {
	st := rt.NewStopTimeUpdate(stopID, order)
	st.Arrival = copyTime(baseArrival)
	st.Departure = copyTime(baseDeparture)
	return st
}

func equalString(a *string, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
