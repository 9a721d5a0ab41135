package ethereum

import (
	"io"
	"strings"
)

// Minimal ABIs for the DCA trader and manager contracts, only the members we use.

func traderABIJSON() io.Reader {
	return strings.NewReader(`[
		{
			"name": "bots",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "", "type": "uint256"}],
			"outputs": [
				{"name": "owner",             "type": "address"},
				{"name": "tokenStrategyId",   "type": "uint256"},
				{"name": "entryFunds",        "type": "uint256"},
				{"name": "initPrice",         "type": "uint256"},
				{"name": "currentDepth",      "type": "uint256"},
				{"name": "STABLECOINBalance", "type": "uint256"},
				{"name": "tokenBalance",      "type": "uint256"},
				{"name": "gasBill",           "type": "uint256"},
				{"name": "destroyed",         "type": "bool"}
			]
		},
		{
			"name": "getBotNextId",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "", "type": "uint256"}]
		},
		{
			"name": "isFulfillable",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "botId", "type": "uint256"}],
			"outputs": [{"name": "", "type": "bool"}]
		},
		{
			"name": "getBotBuyAmounts",
			"type": "function",
			"stateMutability": "view",
			"inputs": [{"name": "botId", "type": "uint256"}],
			"outputs": [{"name": "", "type": "uint256[]"}]
		},
		{
			"name": "run",
			"type": "function",
			"stateMutability": "nonpayable",
			"inputs": [{"name": "botId", "type": "uint256"}],
			"outputs": []
		},
		{
			"name": "BotRunSuccess",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "caller", "type": "address", "indexed": true},
				{"name": "botId",  "type": "uint256", "indexed": true}
			]
		},
		{
			"name": "BotInitialized",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "owner", "type": "address", "indexed": true},
				{"name": "botId", "type": "uint256", "indexed": true}
			]
		}
	]`)
}

func managerABIJSON() io.Reader {
	return strings.NewReader(`[
		{
			"name": "getCurrentBuyInPrice",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "inputAmount",     "type": "uint256"},
				{"name": "tokenStrategyId", "type": "uint256"}
			],
			"outputs": [
				{"name": "output", "type": "uint256"},
				{"name": "price",  "type": "uint256"}
			]
		},
		{
			"name": "getCurrentSellOffPrice",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "inputAmount",     "type": "uint256"},
				{"name": "tokenStrategyId", "type": "uint256"}
			],
			"outputs": [
				{"name": "output", "type": "uint256"},
				{"name": "price",  "type": "uint256"}
			]
		}
	]`)
}
