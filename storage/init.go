package storage

import (
	"ShuttleSignup/config"
	"ShuttleSignup/storage/database"
	"ShuttleSignup/storage/mq"
	"ShuttleSignup/storage/redis"
)

// Init 统一初始化存储层，只有名额存储选择 postgres 时才连接数据库
func Init() error {
	if config.Cfg.SeatStore == "postgres" {
		if err := database.Init(); err != nil {
			return err
		}
		if err := database.Migrate(); err != nil {
			return err
		}
	}

	if err := redis.Init(); err != nil {
		return err
	}

	if err := mq.Init(); err != nil {
		return err
	}

	return nil
}
