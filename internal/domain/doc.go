// Package domain models monthly regional climate and drought indicators
// extracted from gridded raster collections.
//
// # Data Sources
//
// Each dataset is an image collection served by a remote raster query
// service. A query selects bands, restricts the collection to one calendar
// month, optionally pins model/scenario attributes, and samples every pixel
// inside a region boundary at a given scale (metres per pixel). The service
// answers with a header row followed by one row per pixel per image:
//
//	["id", "longitude", "latitude", "time", "<band>", ...]
//	["20100101", -120.1, 38.4, 1262304000000, 281.3, ...]
//
// time is epoch milliseconds (UTC). Band cells may be null where the pixel
// is masked.
//
// # Built-in catalogue
//
//	GRIDMET/DROUGHT            pdsi                          passthrough
//	IDAHO_EPSCOR/TERRACLIMATE  soil, vs                      scale 0.1
//	MODIS/061/MOD13A2          NDVI                          scale 0.0001
//	IDAHO_EPSCOR/GRIDMET       pr, tmmn, tmmx, rmin, rmax    Kelvin temperatures
//	NASA/GDDP-CMIP6            pr, tasmin, tasmax, huss,     forecast, Kelvin,
//	                           sfcWind                       kg m-2 s-1, fraction
//
// The CMIP6 collection holds many models and scenarios, so forecast queries
// pin model=GISS-E2-1-G and scenario=ssp245.
//
// # Scale escalation
//
// Large regions at fine scale can exceed the service's per-query compute
// limits. Extraction starts at the finest configured scale and moves to the
// next coarser one only when the service reports a retryable limit error or
// the sample aggregates to nothing. See [QueryError].
//
// # Aggregation
//
// A region-month collapses to one record: the mean of every band over all
// pixels and images in the month. Humidity bands (huss) also keep their
// minimum and maximum as <band>_min and <band>_max, which become rmin/rmax
// after reconciliation. See [Aggregate].
//
// # Join key
//
// Records from different datasets align on "<region id>_<year>_<MM>", e.g.
// "0401_2010_01". See [JoinKey].
package domain
