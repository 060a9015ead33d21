package ermct

// sidoNames maps short and legacy province/city names to the official names the
// upstream expects in STAGE1 and Q0.
var sidoNames = map[string]string{
	"서울":      "서울특별시",
	"서울특별시":   "서울특별시",
	"부산":      "부산광역시",
	"부산광역시":   "부산광역시",
	"대구":      "대구광역시",
	"대구광역시":   "대구광역시",
	"인천":      "인천광역시",
	"인천광역시":   "인천광역시",
	"광주":      "광주광역시",
	"광주광역시":   "광주광역시",
	"대전":      "대전광역시",
	"대전광역시":   "대전광역시",
	"울산":      "울산광역시",
	"울산광역시":   "울산광역시",
	"세종":      "세종특별자치시",
	"세종특별자치시": "세종특별자치시",
	"경기":      "경기도",
	"경기도":     "경기도",
	"강원":      "강원특별자치도",
	"강원도":     "강원특별자치도",
	"강원특별자치도": "강원특별자치도",
	"충북":      "충청북도",
	"충청북도":    "충청북도",
	"충남":      "충청남도",
	"충청남도":    "충청남도",
	"전북":      "전북특별자치도",
	"전라북도":    "전북특별자치도",
	"전북특별자치도": "전북특별자치도",
	"전남":      "전라남도",
	"전라남도":    "전라남도",
	"경북":      "경상북도",
	"경상북도":    "경상북도",
	"경남":      "경상남도",
	"경상남도":    "경상남도",
	"제주":      "제주특별자치도",
	"제주특별자치도": "제주특별자치도",
}

// MapRegion returns the official name for region, or region unchanged when unknown.
func MapRegion(region string) string {
	if full, ok := sidoNames[region]; ok {
		return full
	}
	return region
}

// Regions lists the short name of every province and metropolitan city.
var Regions = []string{
	"서울", "부산", "대구", "인천", "광주", "대전", "울산", "세종", "경기",
	"강원", "충북", "충남", "전북", "전남", "경북", "경남", "제주",
}
