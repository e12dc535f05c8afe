package database

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var db *gorm.DB
var log *logrus.Logger

func Init(d *gorm.DB, logger *logrus.Logger) error {
	db = d
	log = logger.WithFields(logrus.Fields{
		"component": "database",
	}).Logger
	return nil
}

func Fini() {
	if db == nil {
		return
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Errorln("failed to retrieve sql database for close:", err)
		return
	}
	if err := sqlDB.Close(); err != nil {
		log.Errorln("failed to close database:", err)
	}
}

func Get() *gorm.DB {
	if db == nil {
		panic("didn't call database.Init(...)")
	}
	return db
}
