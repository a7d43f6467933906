package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/shuttle-roster/internal/models"
)

// reportScript writes a position unless the stored one is newer. ARGV[1] is
// the report time as fixed-width unix nanoseconds so string order is time
// order; ARGV[5] is the TTL in milliseconds, 0 for none.
var reportScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'seq')
if cur and cur > ARGV[1] then
  return 0
end
redis.call('HSET', KEYS[1], 'lat', ARGV[2], 'lon', ARGV[3], 'updated', ARGV[4], 'seq', ARGV[1])
if tonumber(ARGV[5]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[5])
end
return 1
`)

// RedisCache implements Cache on Redis so several API replicas and the
// location consumer share one view. Each driver is a hash with an expiry of
// maxAge; the GEO set is kept for operators querying positions by area.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	geoKey string
	maxAge time.Duration
	now    func() time.Time
}

func NewRedisCache(client redis.UniversalClient, prefix, geoKey string, maxAge time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, geoKey: geoKey, maxAge: maxAge, now: time.Now}
}

func (r *RedisCache) key(driverID string) string { return r.prefix + driverID }

// Report stores loc unless Redis already holds a newer position for the
// driver. The API and the consumer both write here, so a consumer replaying
// old events must not move a driver backwards.
func (r *RedisCache) Report(ctx context.Context, loc models.Location) error {
	if loc.UpdatedAt.IsZero() {
		loc.UpdatedAt = r.now()
	}
	f := encodeFields(loc)
	applied, err := reportScript.Run(ctx, r.client, []string{r.key(loc.DriverID)},
		f["seq"], f["lat"], f["lon"], f["updated"], r.maxAge.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if applied == 0 || r.geoKey == "" {
		return nil
	}
	return r.client.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Name: loc.DriverID, Longitude: loc.Lon, Latitude: loc.Lat}).Err()
}

func (r *RedisCache) Get(ctx context.Context, driverID string) (models.Location, bool, error) {
	m, err := r.client.HGetAll(ctx, r.key(driverID)).Result()
	if err != nil {
		return models.Location{}, false, err
	}
	if len(m) == 0 {
		return models.Location{}, false, nil
	}
	loc, err := decodeFields(driverID, m)
	if err != nil {
		return models.Location{}, false, err
	}
	if stale(loc, r.maxAge, r.now()) {
		return models.Location{}, false, nil
	}
	return loc, true, nil
}

func (r *RedisCache) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func encodeFields(loc models.Location) map[string]interface{} {
	return map[string]interface{}{
		"lat":     strconv.FormatFloat(loc.Lat, 'f', -1, 64),
		"lon":     strconv.FormatFloat(loc.Lon, 'f', -1, 64),
		"updated": loc.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"seq":     fmt.Sprintf("%020d", loc.UpdatedAt.UnixNano()),
	}
}

func decodeFields(driverID string, m map[string]string) (models.Location, error) {
	loc := models.Location{DriverID: driverID}
	var err error
	if loc.Lat, err = strconv.ParseFloat(m["lat"], 64); err != nil {
		return loc, fmt.Errorf("driver %s lat: %w", driverID, err)
	}
	if loc.Lon, err = strconv.ParseFloat(m["lon"], 64); err != nil {
		return loc, fmt.Errorf("driver %s lon: %w", driverID, err)
	}
	if loc.UpdatedAt, err = time.Parse(time.RFC3339Nano, m["updated"]); err != nil {
		return loc, fmt.Errorf("driver %s updated: %w", driverID, err)
	}
	return loc, nil
}
