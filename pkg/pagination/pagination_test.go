package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]Params{
		"":                   {Page: 1, Limit: 20},
		"?page=3&limit=5":    {Page: 3, Limit: 5},
		"?page=0&limit=-2":   {Page: 1, Limit: 20},
		"?page=two&limit=xx": {Page: 1, Limit: 20},
		"?limit=1000":        {Page: 1, Limit: MaxLimit},
	}
	for query, want := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/api/requests"+query, nil)
		assert.Equal(t, want, Parse(c), query)
	}

	assert.Equal(t, 10, Params{Page: 3, Limit: 5}.Offset())
}
