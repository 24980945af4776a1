package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/luma/tether/rpc"
	"github.com/luma/tether/server"
)

const DefaultCallTimeout = 30 * time.Second

// Nodes is the part of a duplex server the admin API drives.
type Nodes interface {
	Nodes() []string
	CallNode(name, method string, args ...interface{}) *rpc.Result
}

type Options struct {
	// Debug puts gin in debug mode
	Debug bool

	// CallTimeout bounds how long a routed call is waited on
	CallTimeout time.Duration

	Log *zap.Logger
}

func NewRouter(nodes Nodes, options Options) *gin.Engine {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	timeout := options.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	gin.DisableConsoleColor()
	if !options.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Logs all requests, like a combined access and error log, with UTC RFC3339 times
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	r.GET("/nodes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"nodes": nodes.Nodes()})
	})

	r.POST("/nodes/:name/calls/:method", func(c *gin.Context) {
		args, err := readArgs(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		result, err := nodes.CallNode(c.Param("name"), c.Param("method"), args...).Wait(ctx)
		if err != nil {
			c.JSON(statusOf(err), gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"result": result})
	})

	return r
}

var errArgsNotArray = errors.New("Request body must be a JSON array of arguments")

// readArgs reads the call arguments from a JSON array body. An empty body
// means no arguments.
func readArgs(c *gin.Context) ([]interface{}, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}

	if len(body) == 0 {
		return nil, nil
	}

	if !gjson.ValidBytes(body) {
		return nil, errArgsNotArray
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.IsArray() {
		return nil, errArgsNotArray
	}

	args := make([]interface{}, 0)
	for _, arg := range parsed.Array() {
		args = append(args, arg.Value())
	}

	return args, nil
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, server.ErrNodeNotFound):
		return http.StatusNotFound

	case errors.Is(err, rpc.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case rpc.IsRemote(err), errors.Is(err, rpc.ErrConnClosed):
		return http.StatusBadGateway

	default:
		return http.StatusInternalServerError
	}
}
