// Package stats rolls a meter's readings up into dense calendar series.
//
// A Window is one calendar day, Monday-Sunday week, month or year in the
// display time zone. Aggregate groups readings into one bucket per hour
// (day), date (week, month) or month (year) of that window and left-joins
// them onto the full set of expected labels, so the output length depends
// only on the window:
//
//	day   24 buckets, labels "00:00" .. "23:00"
//	week   7 buckets, labels "dd/mm" Monday .. Sunday
//	month 28-31 buckets, labels "dd/mm"
//	year  12 buckets, labels "mm/yyyy"
//
// Energy used in a bucket is the last reading's counter minus the first
// reading's counter, ordered by time. A meter reset inside a bucket can
// make it negative; Options.ClampNegative reports those as zero.
package stats
