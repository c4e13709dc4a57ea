package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"ShuttleSignup/config"
	"ShuttleSignup/internal/model"
	"ShuttleSignup/internal/seat"
	"ShuttleSignup/pkg/logger"
	"ShuttleSignup/storage/database"
	"ShuttleSignup/storage/redis"
)

// 本地环境的上车点初始化，文件格式：
//
//	{"event_id": "evt-1", "locations": [{"id": "north", "label": "...", "pickup_time": "2026-06-12T07:00:00Z", "capacity": 40}]}
func main() {
	file := flag.String("file", "seed/pickup_locations.json", "pickup locations json file")
	flag.Parse()

	logger.Init()
	defer logger.Sync()

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.Logger.Fatal("Failed to read seed file", zap.String("file", *file), zap.Error(err))
	}
	if !gjson.ValidBytes(data) {
		logger.Logger.Fatal("Seed file is not valid JSON", zap.String("file", *file))
	}

	inv := seat.NewInventory(repository())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root := gjson.ParseBytes(data)
	eventID := root.Get("event_id").String()

	var created, failed int
	root.Get("locations").ForEach(func(_, loc gjson.Result) bool {
		res, err := parseLocation(eventID, loc)
		if err == nil {
			err = inv.CreateResource(ctx, res)
		}
		if err != nil {
			failed++
			logger.Logger.Error("Failed to seed pickup location",
				zap.String("id", loc.Get("id").String()),
				zap.Error(err),
			)
			return true
		}
		created++
		return true
	})

	logger.Logger.Info("Seeding finished",
		zap.String("event_id", eventID),
		zap.Int("created", created),
		zap.Int("failed", failed),
	)
}

func repository() seat.Repository {
	cfg := config.Cfg
	if cfg.SeatStore == "postgres" {
		if err := database.Init(); err != nil {
			logger.Logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		if err := database.Migrate(); err != nil {
			logger.Logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		return seat.NewPostgresRepository(database.DB())
	}

	if err := redis.Init(); err != nil {
		logger.Logger.Fatal("Failed to initialize redis", zap.Error(err))
	}
	return seat.NewRedisRepository(redis.Client(), cfg.RedisPrefix)
}

func parseLocation(defaultEventID string, loc gjson.Result) (*model.SeatResource, error) {
	pickupTime, err := time.Parse(time.RFC3339, loc.Get("pickup_time").String())
	if err != nil {
		return nil, err
	}

	eventID := loc.Get("event_id").String()
	if eventID == "" {
		eventID = defaultEventID
	}

	return &model.SeatResource{
		ID:         loc.Get("id").String(),
		EventID:    eventID,
		Label:      loc.Get("label").String(),
		Address:    loc.Get("address").String(),
		PickupTime: pickupTime,
		Capacity:   int(loc.Get("capacity").Int()),
		Lat:        loc.Get("lat").Float(),
		Lng:        loc.Get("lng").Float(),
	}, nil
}
