package api

import (
	"fmt"
	"time"

	"factorlab/internal/calculator"
	"factorlab/internal/config"
	"factorlab/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type backtestRequest struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`

	// optional overrides; zero values fall back to the server config
	TopN           int     `json:"topN"`
	Strategy       string  `json:"strategy"`
	InitialCapital float64 `json:"initialCapital"`
}

func (m ApiHandler) backtest(c *gin.Context) {
	ctx := c.Request.Context()

	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		returnErrorJsonCode(fmt.Errorf("failed to parse request: %w", err), c, 400)
		return
	}

	start, err := time.Parse(time.DateOnly, req.Start)
	if err != nil {
		returnErrorJsonCode(fmt.Errorf("invalid start date %q: %w", req.Start, err), c, 400)
		return
	}
	end, err := time.Parse(time.DateOnly, req.End)
	if err != nil {
		returnErrorJsonCode(fmt.Errorf("invalid end date %q: %w", req.End, err), c, 400)
		return
	}

	cfg := m.Config
	if req.TopN > 0 {
		cfg.TopN = req.TopN
	}
	if req.Strategy != "" {
		cfg.Strategy = config.Strategy(req.Strategy)
	}
	if req.InitialCapital > 0 {
		cfg.InitialCapital = req.InitialCapital
	}
	if err := cfg.Validate(); err != nil {
		returnErrorJsonCode(err, c, 400)
		return
	}

	factorService := calculator.NewFactorService(m.Data, cfg.Factors)
	strategy, err := service.NewStrategyFromConfig(cfg, factorService.FactorNames())
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	handler := service.BacktestHandler{
		Data:          m.Data,
		FactorService: factorService,
		Strategy:      strategy,
		Scheduler: service.Scheduler{
			TrainWindowDays:    cfg.TrainWindowDays,
			RetrainEveryDays:   cfg.RetrainEveryDays,
			RebalanceEveryDays: cfg.RebalanceEveryDays,
		},
	}

	result, err := handler.Run(ctx, service.BacktestInput{
		Start:               start,
		End:                 end,
		InitialCapital:      decimal.NewFromFloat(cfg.InitialCapital),
		TopN:                cfg.TopN,
		TransactionCostRate: decimal.NewFromFloat(cfg.TransactionCostRate),
		ForwardReturnDays:   cfg.ForwardReturnDays,
		MinTrainingRows:     cfg.MinTrainingRows,
	})
	if err != nil {
		returnErrorJson(err, c)
		return
	}

	c.JSON(200, result)
}
