package handler

import (
	"loyaltycore/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// 创建处理器
	h := NewHandler(db, rdb, cfg)

	// API 路由组
	api := r.Group("/api/v1")
	{
		loyalty := api.Group("/loyalty")
		{
			// 查询
			loyalty.GET("/balance", h.GetBalance)
			loyalty.GET("/history", h.GetHistory)
			loyalty.GET("/stats", h.GetStats)
			loyalty.GET("/tiers", h.GetTiers)

			// 积分变动
			loyalty.POST("/earn", h.Earn)
			loyalty.POST("/order-earn", h.EarnFromOrder)
			loyalty.POST("/spend", h.Spend)
			loyalty.POST("/adjust", h.Adjust)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
